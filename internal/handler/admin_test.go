package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/approval"
)

type mockApprovals struct {
	lastReq approval.DecideRequest
	err     error
	history []domain.PaymentEvent
}

func (m *mockApprovals) Decide(_ context.Context, req approval.DecideRequest) (*domain.PaymentRecord, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	status := domain.PaymentStatusApproved
	if req.Decision == domain.DecisionReject {
		status = domain.PaymentStatusRejected
	}
	return &domain.PaymentRecord{ID: req.PaymentID, Status: status, Version: 3}, nil
}

func (m *mockApprovals) History(_ context.Context, id uuid.UUID) ([]domain.PaymentEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.history, nil
}

type mockRecords struct {
	record *domain.PaymentRecord
}

func (m *mockRecords) Get(_ context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	if m.record == nil || m.record.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.record, nil
}

type mockProofReader struct {
	content string
}

func (m *mockProofReader) Open(handle string) (io.ReadCloser, string, error) {
	if m.content == "" {
		return nil, "", domain.ErrProofNotFound
	}
	return io.NopCloser(strings.NewReader(m.content)), "application/pdf", nil
}

func adminClaims() *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), TenantID: uuid.New(), Role: auth.RoleAdmin}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		reject     bool
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{name: "approve", body: `{"expected_version":2}`, wantStatus: http.StatusOK},
		{name: "approve without version", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: "MISSING_REQUIRED_FIELD"},
		{name: "approve empty body", body: ``, wantStatus: http.StatusBadRequest, wantCode: "MISSING_REQUIRED_FIELD"},
		{name: "reject", reject: true, body: `{"reason":"receipt amount does not match","expected_version":2}`, wantStatus: http.StatusOK},
		{name: "reject without version", reject: true, body: `{"reason":"receipt amount does not match"}`, wantStatus: http.StatusBadRequest, wantCode: "MISSING_REQUIRED_FIELD"},
		{name: "reject short reason", reject: true, body: `{"reason":"bad","expected_version":2}`, svcErr: fmt.Errorf("Decide: %w", domain.ErrRejectionReasonTooShort), wantStatus: http.StatusBadRequest, wantCode: "REJECTION_REASON_TOO_SHORT"},
		{name: "not awaiting review", body: `{"expected_version":2}`, svcErr: fmt.Errorf("Decide: %w", domain.ErrInvalidTransition), wantStatus: http.StatusConflict, wantCode: "INVALID_TRANSITION"},
		{name: "lost race", body: `{"expected_version":2}`, svcErr: fmt.Errorf("Decide: %w", domain.ErrConcurrentModification), wantStatus: http.StatusConflict, wantCode: "VERSION_CONFLICT"},
		{name: "unknown payment", body: `{"expected_version":2}`, svcErr: fmt.Errorf("Decide: %w", domain.ErrNotFound), wantStatus: http.StatusNotFound, wantCode: "RESOURCE_NOT_FOUND"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockApprovals{err: tc.svcErr}
			h := NewAdminHandler(svc, &mockRecords{}, &mockProofReader{})
			id := uuid.New()
			claims := adminClaims()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+id.String()+"/approve", strings.NewReader(tc.body))
			req.SetPathValue("id", id.String())
			req = withClaims(req, claims)
			rr := httptest.NewRecorder()
			if tc.reject {
				h.Reject(rr, req)
			} else {
				h.Approve(rr, req)
			}

			assert.Equal(t, tc.wantStatus, rr.Code)
			resp := decodeResponse(t, rr)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, resp.Error.Code)
				return
			}
			assert.Equal(t, "admin:"+claims.UserID.String(), svc.lastReq.Actor)
			assert.Equal(t, id, svc.lastReq.PaymentID)
			assert.Equal(t, int64(2), svc.lastReq.ExpectedVersion)
		})
	}
}

func TestEvents(t *testing.T) {
	from := domain.PaymentStatusCreated
	svc := &mockApprovals{history: []domain.PaymentEvent{
		{ID: uuid.New(), EventType: domain.PaymentEventTypeCreated, ToStatus: domain.PaymentStatusCreated, Version: 1, Actor: domain.ActorSystem},
		{ID: uuid.New(), EventType: domain.PaymentEventTypePending, FromStatus: &from, ToStatus: domain.PaymentStatusPending, Version: 2, Actor: domain.ActorSystem},
	}}
	h := NewAdminHandler(svc, &mockRecords{}, &mockProofReader{})
	id := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+id.String()+"/events", nil)
	req.SetPathValue("id", id.String())
	rr := httptest.NewRecorder()
	h.Events(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeResponse(t, rr).Data.([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "pending", data[1].(map[string]any)["to_status"])
	assert.Equal(t, "created", data[1].(map[string]any)["from_status"])
}

func TestProof(t *testing.T) {
	p := samplePayment(uuid.New())
	p.Method = domain.MethodBankTransfer
	p.Details = &domain.BankTransferDetails{ReferenceNo: "123456789", ProofHandle: p.ID.String() + "/01J.pdf"}

	tests := []struct {
		name       string
		record     *domain.PaymentRecord
		content    string
		wantStatus int
	}{
		{"streams proof", p, "%PDF-1.4", http.StatusOK},
		{"proof missing on disk", p, "", http.StatusNotFound},
		{"unknown payment", nil, "%PDF-1.4", http.StatusNotFound},
		{"not a bank transfer", samplePayment(uuid.New()), "%PDF-1.4", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAdminHandler(&mockApprovals{}, &mockRecords{record: tc.record}, &mockProofReader{content: tc.content})
			id := p.ID
			if tc.record != nil {
				id = tc.record.ID
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+id.String()+"/proof", nil)
			req.SetPathValue("id", id.String())
			rr := httptest.NewRecorder()
			h.Proof(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
				assert.Equal(t, tc.content, rr.Body.String())
			}
		})
	}
}

func TestAppErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		want *AppError
	}{
		{fmt.Errorf("x: %w", domain.ErrNotFound), ErrResourceNotFound},
		{fmt.Errorf("x: %w", domain.ErrForbidden), ErrForbidden},
		{fmt.Errorf("x: %w: %w", domain.ErrMissingProofForBankTransfer, domain.ErrProofNotFound), ErrMissingProof},
		{fmt.Errorf("x: %w", domain.ErrRejectionReasonTooShort), ErrReasonTooShort},
		{fmt.Errorf("x: %w", domain.ErrConcurrentModification), ErrVersionConflict},
		{fmt.Errorf("x: %w", domain.ErrAllocationExhausted), ErrAllocationExhausted},
		{fmt.Errorf("x: %w", domain.ErrExternalProvider), ErrProviderUnavailable},
		{fmt.Errorf("x: %w", domain.ErrInvalidWebhookSignature), ErrInvalidSignature},
		{fmt.Errorf("connection refused"), ErrInternalError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Same(t, tc.want, AppErrorFor(tc.err))
		})
	}
}
