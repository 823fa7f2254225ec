package ledger

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/realtime/realtimetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	studentID = "5f1d7a52-8c0e-4a57-9d0e-2b6f0c1e9a01"
	secret    = "s3cret"
)

var txColumns = []string{"transaction_id", "order_id", "expert_id", "student_id", "type", "amount", "description", "status", "external_id", "created_at"}

var userColumns = []string{"user_id", "name", "email", "role", "pengu_credits", "created_at", "updated_at"}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mdb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })
	return sqlx.NewDb(mdb, "postgres"), mock
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSecureHash(t *testing.T) {
	assert.Equal(t, "0a4bc47fb18794abd00cfaee503c36c9", SecureHash("abc", secret))
	assert.NotEqual(t, SecureHash("abc", secret), SecureHash("abd", secret))

	p := Postback{TransID: "abc", SecureHash: SecureHash("abc", secret)}
	assert.True(t, p.Verify(secret))
	assert.False(t, p.Verify("other"))

	p.SecureHash = strings.ToUpper(p.SecureHash)
	assert.True(t, p.Verify(secret), "hash comparison is case insensitive")
}

func TestPostbackCredits(t *testing.T) {
	for in, want := range map[string]int64{"120": 120, "12.5": 13, " 7 ": 7, "": 0, "abc": 0, "-3": -3} {
		assert.Equal(t, want, Postback{AmountLocal: in}.Credits(), in)
	}
}

func TestApplyPostbackCredits(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM transactions WHERE external_id = \$1 FOR UPDATE`).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(txColumns))
	mock.ExpectQuery(`FROM users WHERE user_id = \$1 FOR UPDATE`).WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(studentID, "", "", "STUDENT", 100, now, now))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE users`).WithArgs(int64(250), now, studentID).
		WillReturnRows(sqlmock.NewRows([]string{"pengu_credits"}).AddRow(350))
	mock.ExpectCommit()

	p := Postback{Status: "1", TransID: "t-1", UserID: studentID, AmountLocal: "250"}
	outcome, tx, err := ApplyPostback(context.Background(), db, p, now)
	require.NoError(t, err)
	assert.Equal(t, CPXCredited, outcome)
	require.NotNil(t, tx)
	assert.Equal(t, Reward, tx.Type)
	assert.EqualValues(t, 250, tx.Amount)
	assert.Equal(t, "t-1", *tx.ExternalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostbackDuplicate(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE external_id = \$1 FOR UPDATE`).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("a9", nil, nil, studentID, "REWARD", 250, "", "completed", "t-1", now))
	mock.ExpectRollback()

	p := Postback{Status: "1", TransID: "t-1", UserID: studentID, AmountLocal: "250"}
	outcome, tx, err := ApplyPostback(context.Background(), db, p, now)
	require.NoError(t, err)
	assert.Equal(t, CPXDuplicate, outcome)
	assert.Nil(t, tx)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostbackUnknownUser(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE external_id`).WillReturnRows(sqlmock.NewRows(txColumns))
	mock.ExpectQuery(`FROM users`).WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectRollback()

	p := Postback{Status: "1", TransID: "t-2", UserID: studentID, AmountLocal: "10"}
	outcome, _, err := ApplyPostback(context.Background(), db, p, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CPXUnknownUser, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostbackReverses(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE external_id = \$1 FOR UPDATE`).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("a9", nil, nil, studentID, "REWARD", 250, "CPX survey reward t-1", "completed", "t-1", now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET status = $1, description = $2 || description`)).
		WithArgs(string(Chargeback), "[CHARGEBACK] ", "a9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE users`).WithArgs(int64(-250), now, studentID).
		WillReturnRows(sqlmock.NewRows([]string{"pengu_credits"}).AddRow(0))
	mock.ExpectCommit()

	outcome, tx, err := ApplyPostback(context.Background(), db, Postback{Status: "2", TransID: "t-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, CPXReversed, outcome)
	assert.Equal(t, Chargeback, tx.Status)
	assert.Equal(t, "[CHARGEBACK] CPX survey reward t-1", tx.Description)

	// a second reversal changes nothing
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE external_id`).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("a9", nil, nil, studentID, "REWARD", 250, "", "chargeback", "t-1", now))
	mock.ExpectRollback()

	outcome, tx, err = ApplyPostback(context.Background(), db, Postback{Status: "2", TransID: "t-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, CPXAlreadyReversed, outcome)
	assert.Nil(t, tx)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCPX(t *testing.T) {
	db, mock := newMock(t)
	rec := &realtimetest.Recorder{}
	h := HandleCPX(db, secret, rec, quietLog())

	call := func(query string) (int, string) {
		r := httptest.NewRequest(http.MethodGet, "/transactions/cpx?"+query, nil)
		w := httptest.NewRecorder()
		if err := h(r.Context(), w, r); err != nil {
			return weberr.Status(err), ""
		}
		return w.Code, w.Body.String()
	}

	code, body := call("status=1&trans_id=t-1&user_id=" + studentID + "&amount_local=5&secure_hash=bad")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"invalid hash"}`, body)

	code, body = call("status=9&trans_id=t-1&secure_hash=" + SecureHash("t-1", secret))
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ignored"}`, body)

	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))
	code, _ = call("status=2&trans_id=t-1&secure_hash=" + SecureHash("t-1", secret))
	assert.Equal(t, http.StatusInternalServerError, code)

	assert.Empty(t, rec.Events())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScopesToParty(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE (expert_id = $1 OR student_id = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs(studentID, int64(50), int64(0)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("a1", nil, nil, studentID, "PAYOUT", 600, "", "completed", nil, time.Now()))

	txs, err := List(context.Background(), db, Filter{Party: studentID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].OrderID)
	assert.Equal(t, realtime.Broadcast(studentID), txs[0].Rooms())
	require.NoError(t, mock.ExpectationsWereMet())
}
