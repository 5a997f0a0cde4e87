// Package feed implements the upstream event source client. Events come from
// a subgraph-style indexer exposing a GraphQL endpoint; each entity carries a
// monotonic vid within its event name, which is what the cursor store tracks.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/vaultbridge/relay-node/relayer/orchestrator"
)

const defaultRequestTimeout = 10 * time.Second

// eventsQuery pages events of one name strictly after a vid, in vid order.
const eventsQuery = `query($eventName: String!, $afterVid: BigInt!, $first: Int!) {
  bridgeEvents(where: {eventName: $eventName, vid_gt: $afterVid}, orderBy: vid, orderDirection: asc, first: $first) {
    vid
    eventName
    kind
    origin
    txHash
    finalizedTxHash
    blockNumber
    l1BatchNumber
    payload
    eventType
    subgraphId
  }
}`

// SubgraphFeed fetches ordered events from a GraphQL indexer endpoint.
type SubgraphFeed struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSubgraphFeed creates a feed client for the given endpoint.
func NewSubgraphFeed(url string, logger zerolog.Logger) *SubgraphFeed {
	return &SubgraphFeed{
		url:        url,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.With().Str("component", "subgraph_feed").Logger(),
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		BridgeEvents []rawEvent `json:"bridgeEvents"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type rawEvent struct {
	Vid             uint64 `json:"vid,string"`
	EventName       string `json:"eventName"`
	Kind            string `json:"kind"`
	Origin          string `json:"origin"`
	TxHash          string `json:"txHash"`
	FinalizedTxHash string `json:"finalizedTxHash"`
	BlockNumber     uint64 `json:"blockNumber,string"`
	L1BatchNumber   uint64 `json:"l1BatchNumber,string"`
	Payload         string `json:"payload"`
	EventType       string `json:"eventType"`
	SubgraphID      string `json:"subgraphId"`
}

// FetchEvents implements orchestrator.EventFeed.
func (f *SubgraphFeed) FetchEvents(ctx context.Context, eventName string, afterVid uint64, limit int) ([]orchestrator.Event, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: eventsQuery,
		Variables: map[string]interface{}{
			"eventName": eventName,
			"afterVid":  fmt.Sprintf("%d", afterVid),
			"first":     limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var decoded graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("feed query error: %s", decoded.Errors[0].Message)
	}

	events := make([]orchestrator.Event, 0, len(decoded.Data.BridgeEvents))
	for _, raw := range decoded.Data.BridgeEvents {
		ev, err := f.translate(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	f.logger.Debug().
		Str("event_name", eventName).
		Uint64("after_vid", afterVid).
		Int("count", len(events)).
		Msg("events fetched")
	return events, nil
}

// translate maps a raw feed entity onto the orchestrator's event type.
func (f *SubgraphFeed) translate(raw rawEvent) (orchestrator.Event, error) {
	var payload hexutil.Bytes
	if raw.Payload != "" && raw.Payload != "0x" {
		decoded, err := hexutil.Decode(raw.Payload)
		if err != nil {
			return orchestrator.Event{}, fmt.Errorf("invalid payload on vid %d: %w", raw.Vid, err)
		}
		payload = decoded
	}

	return orchestrator.Event{
		Vid:             raw.Vid,
		EventName:       raw.EventName,
		Kind:            orchestrator.EventKind(raw.Kind),
		Origin:          raw.Origin,
		TxHash:          raw.TxHash,
		FinalizedTxHash: raw.FinalizedTxHash,
		BlockNumber:     raw.BlockNumber,
		L1BatchNumber:   raw.L1BatchNumber,
		Payload:         payload,
		EventType:       raw.EventType,
		SubgraphID:      raw.SubgraphID,
	}, nil
}
