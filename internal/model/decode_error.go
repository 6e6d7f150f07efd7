package model

// DecodeError records a log that matched a query but could not be decoded.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	Address     string `json:"address"`
	Event       string `json:"event"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

func (e DecodeError) Key() Key {
	return Key{TxHash: e.TxHash, LogIndex: e.LogIndex}
}
