package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"maintdesk/internal/types"
)

// WorkOrderServiceClient implements the pm.WorkOrderCreator interface against
// a remote work-order service, for deployments where corrective work orders
// live outside the engine's database. Co-located deployments use
// db.WorkOrderRepository instead; the Generator does not care which.
type WorkOrderServiceClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
}

// NewWorkOrderServiceClient creates a client for the work-order service at
// baseURL. The apiKey is sent as a bearer token on every request.
func NewWorkOrderServiceClient(base *BaseClient, baseURL, apiKey string) *WorkOrderServiceClient {
	return &WorkOrderServiceClient{
		base:    base,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// createWorkOrderRequest is the wire format of POST /v1/work-orders.
type createWorkOrderRequest struct {
	Title    string `json:"title"`
	AssetID  string `json:"asset_id"`
	StoreID  string `json:"store_id"`
	DueDate  string `json:"due_date"` // YYYY-MM-DD
	Priority string `json:"priority"`
	Source   string `json:"source"`
}

type createWorkOrderResponse struct {
	ID string `json:"id"`
}

// Create posts the draft to the work-order service and returns the new work
// order's ID. Timeouts and upstream errors surface as AppErrors; the caller
// (the Generator) treats them as failure and releases its reservation, so an
// ambiguous timeout can never silently half-succeed on our side.
func (c *WorkOrderServiceClient) Create(ctx context.Context, draft types.WorkOrderDraft) (uuid.UUID, error) {
	payload := createWorkOrderRequest{
		Title:    draft.Title,
		AssetID:  draft.AssetID.String(),
		StoreID:  draft.StoreID,
		DueDate:  draft.DueDate.Format("2006-01-02"),
		Priority: string(draft.Priority),
		Source:   "preventive",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal work order draft", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/work-orders", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build work order request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return uuid.Nil, types.NewAppError(types.ErrCodeUpstreamWorkOrders,
			fmt.Sprintf("work order service returned %d", resp.StatusCode), nil)
	}

	var out createWorkOrderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return uuid.Nil, types.NewAppError(types.ErrCodeUpstreamWorkOrders,
			"failed to decode work order response", err)
	}
	id, err := uuid.Parse(out.ID)
	if err != nil {
		return uuid.Nil, types.NewAppError(types.ErrCodeUpstreamWorkOrders,
			"work order service returned a malformed id", err)
	}
	return id, nil
}
