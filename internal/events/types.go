package events

// Topic enumerates the fan-out channels inside the engine.
type Topic string

const (
	TopicMarketEvent       Topic = "market_event"
	TopicBestBidAsk        Topic = "best_bid_ask"
	TopicSignalDifference  Topic = "signal.price_difference"
	TopicSignalChange      Topic = "signal.price_change"
	TopicSignalRatio       Topic = "signal.bin_hyp_ratio"
	TopicEventOne          Topic = "event.price_change_and_diff"
	TopicEventPosition     Topic = "event.position"
	TopicExecutionResponse Topic = "execution.response"
	TopicOrderUpdate       Topic = "order.update"
	TopicAccountingBook    Topic = "accounting.book"
)
