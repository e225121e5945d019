package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"clubsched/internal/shared/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
		wantTag  string
	}{
		{"wrapped no capacity", fmt.Errorf("book: %w", apperrors.ErrNoCapacity), http.StatusConflict, "book: session is full", "NO_CAPACITY"},
		{"payment", apperrors.ErrPaymentAuthorizationFailed, http.StatusPaymentRequired, "payment authorization failed", "PAYMENT_AUTHORIZATION_FAILED"},
		{"unknown hides detail", errors.New("pq: connection refused"), http.StatusInternalServerError, "Internal server error", "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondError(c, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body struct {
				Status     string            `json:"status"`
				StatusCode int               `json:"status_code"`
				Message    string            `json:"message"`
				Errors     map[string]string `json:"errors"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.wantMsg, body.Message)
			assert.Equal(t, tt.wantTag, body.Errors["code"])
		})
	}
}
