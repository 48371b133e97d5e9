package mqtt

import (
	"encoding/json"
	"time"
)

// BridgeStatus is the retained payload on Topics.BridgeStatus. Orchestrators
// use it to tell a cleanly stopped bridge from one that dropped off the bus.
type BridgeStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	//nolint:errcheck // a struct of strings always marshals
	data, _ := json.Marshal(BridgeStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
