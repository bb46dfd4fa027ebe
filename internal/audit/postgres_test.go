package audit

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPostgresSink_LogExecutesInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), EventOrderFilled, SeverityInfo, "execution-1", "order-1", "filled", true, "", []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := newPostgresSink(mock, zerolog.Nop())
	sink.Log(context.Background(), Event{
		EventType: EventOrderFilled,
		Severity:  SeverityInfo,
		Actor:     "execution-1",
		Resource:  "order-1",
		Action:    "filled",
		Success:   true,
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_LogSwallowsExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(assertAnError{})

	sink := newPostgresSink(mock, zerolog.Nop())
	sink.Log(context.Background(), Event{EventType: EventAgentFailed, Action: "boom"})

	require.NoError(t, mock.ExpectationsWereMet())
}

type assertAnError struct{}

func (assertAnError) Error() string { return "connection reset" }
