package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RunIdempotent executes operation at most once per (agentName, requestID)
// key, wrapping begin/complete/commit in one transaction; reusing a key for
// a different command is an error. On replay it decodes and returns
// the previously stored JSON result without re-running operation.
//
// requestID may be empty, which skips the idempotency bookkeeping entirely
// and just runs operation in its own retried transaction. The CLI commands
// never pass an empty requestID: they generate one when none is supplied.
func RunIdempotent[T any](ctx context.Context, db *sql.DB, agentName, requestID, command string, operation func(tx *sql.Tx) (T, error)) (result T, replayed bool, err error) {
	if requestID == "" {
		err = Transact(ctx, db, func(tx *sql.Tx) error {
			var innerErr error
			result, innerErr = operation(tx)
			return innerErr
		})
		return result, false, err
	}

	err = Transact(ctx, db, func(tx *sql.Tx) error {
		existing, done, beginErr := beginIdempotencyTx(ctx, tx, agentName, requestID, command)
		if beginErr != nil {
			return beginErr
		}
		if done {
			if unmarshalErr := json.Unmarshal([]byte(existing), &result); unmarshalErr != nil {
				return fmt.Errorf("decode idempotency result: %w", unmarshalErr)
			}
			replayed = true
			return nil
		}

		opResult, opErr := operation(tx)
		if opErr != nil {
			return opErr
		}
		b, marshalErr := json.Marshal(opResult)
		if marshalErr != nil {
			return fmt.Errorf("encode idempotency result: %w", marshalErr)
		}
		if compErr := completeIdempotencyTx(ctx, tx, agentName, requestID, string(b)); compErr != nil {
			return compErr
		}
		result = opResult
		return nil
	})
	return result, replayed, err
}
