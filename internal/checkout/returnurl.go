package checkout

import (
	"fmt"
	"net/url"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// ReturnParams are the markers parsed off a redirect return URL.
type ReturnParams struct {
	TransactionID string
	ClientSecret  string
}

// DetectReturn recognizes a redirect return from the query string. It
// returns false when the page is a plain checkout mount, and an error when
// the markers are present but incomplete.
func DetectReturn(query url.Values) (ReturnParams, bool, error) {
	if query.Get(domain.ReturnMarkerParam) != "true" {
		return ReturnParams{}, false, nil
	}

	params := ReturnParams{
		TransactionID: query.Get(domain.ReturnTxIDParam),
		ClientSecret:  query.Get(domain.ReturnSecretParam),
	}
	if params.TransactionID == "" || params.ClientSecret == "" {
		return ReturnParams{}, false, fmt.Errorf("incomplete return markers: %w", domain.ErrRedirectReturnMismatch)
	}
	return params, true, nil
}

// validateReturn checks the markers against the session's persisted
// transaction. A mismatch is terminal for this tab and must not reach the
// ledger.
func validateReturn(session *Session, params ReturnParams) error {
	if session.Transaction.ID == "" || session.Transaction.ID != params.TransactionID {
		return fmt.Errorf("return for transaction %s does not match session: %w", params.TransactionID, domain.ErrRedirectReturnMismatch)
	}
	if session.Transaction.ProtectedData.PaymentIntentClientSecret != params.ClientSecret {
		return fmt.Errorf("return client secret does not match session: %w", domain.ErrRedirectReturnMismatch)
	}
	return nil
}
