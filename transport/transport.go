package transport

import (
	"fmt"
	"time"
)

// Transport bundles the request/response client and the push channel for
// one backend and one client identity.
type Transport struct {
	*Client
	*PushChannel
}

func New(apiURL, pushURL, userID string, timeout time.Duration) (*Transport, error) {
	client, err := NewClient(apiURL, userID, timeout)
	if err != nil {
		return nil, err
	}
	if pushURL == "" {
		return nil, fmt.Errorf("push channel URL is required")
	}
	return &Transport{Client: client, PushChannel: NewPushChannel(pushURL, userID, timeout)}, nil
}
