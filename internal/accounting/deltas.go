package accounting

import (
	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// Delta is one signed position adjustment. Perpetual deltas key on the
// instrument symbol; spot legs and fees key on the asset name.
type Delta struct {
	Key string
	Qty float64
}

// PositionDeltas are the up-to-three slots one fill produces: the primary
// leg, the spot quote leg, and the fee. Any slot may be nil.
type PositionDeltas struct {
	Primary   *Delta
	Secondary *Delta
	Fee       *Delta
}

// apply folds the deltas into a positions map and mirrors them into a
// change set.
func (d PositionDeltas) apply(positions, changed map[string]float64) {
	for _, slot := range []*Delta{d.Primary, d.Secondary, d.Fee} {
		if slot == nil || slot.Qty == 0 {
			continue
		}
		positions[slot.Key] += slot.Qty
		changed[slot.Key] = positions[slot.Key]
	}
}

// computeDeltas turns a (pre, post) fill progression into position deltas.
// Fees are an inverse delta against the fee asset. Spot fills move base and
// quote; perpetual fills move only the signed instrument quantity.
func computeDeltas(ins catalog.Instrument, side common.Side,
	preQty, preCost, postQty, postCost float64,
	feeAsset catalog.Asset, fee float64) (PositionDeltas, error) {

	if postQty < preQty-epsilon {
		return PositionDeltas{}, invariantf("%s: filled quantity decreased %v -> %v", ins.Symbol, preQty, postQty)
	}
	if postCost < preCost-epsilon {
		return PositionDeltas{}, invariantf("%s: filled cost decreased %v -> %v", ins.Symbol, preCost, postCost)
	}
	if preCost < 0 || postCost < 0 {
		return PositionDeltas{}, invariantf("%s: negative filled cost", ins.Symbol)
	}

	dq := postQty - preQty
	dc := postCost - preCost

	var out PositionDeltas
	switch ins.Type {
	case catalog.TypeSpot:
		if side == common.SideBuy {
			out.Primary = &Delta{Key: string(ins.Base), Qty: +dq}
			out.Secondary = &Delta{Key: string(ins.Quote), Qty: -dc}
		} else {
			out.Primary = &Delta{Key: string(ins.Base), Qty: -dq}
			out.Secondary = &Delta{Key: string(ins.Quote), Qty: +dc}
		}
	case catalog.TypePerpetual, catalog.TypeDelivery:
		signed := dq
		if side == common.SideSell {
			signed = -dq
		}
		out.Primary = &Delta{Key: ins.Symbol, Qty: signed}
	default:
		return PositionDeltas{}, invariantf("%s: unsupported instrument type %s", ins.Symbol, ins.Type)
	}

	if fee != 0 && feeAsset != "" {
		out.Fee = &Delta{Key: string(feeAsset), Qty: -fee}
	}
	return out, nil
}
