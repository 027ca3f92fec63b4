package domain

// AlertRecord is the persisted trace of one sent alert.
type AlertRecord struct {
	Chain       Chain
	Account     string
	AlertKey    string
	Message     string
	Price       float64
	TimestampMs int64
}
