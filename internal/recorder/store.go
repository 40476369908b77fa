package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dronecontrol/pkg/drone"
)

// SqliteStore keeps flight sessions in a sqlite database.
type SqliteStore struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.db = db
	})

	return s.db, s.dbErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, version drone.DroneVersion, address string) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, insertSessionSQL, time.Now().UTC(), string(version), address)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting session ID: %w", err)
	}

	return id, nil
}

// StoreTelemetry writes states in a single batch insert.
func (s *SqliteStore) StoreTelemetry(ctx context.Context, sessionID int64, states []drone.TelemetryState) (err error) {
	if len(states) == 0 {
		return nil
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	var sb strings.Builder
	sb.WriteString(insertTelemetrySQL)

	values := make([]any, 0, len(states)*14)

	for i, t := range states {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(telemetryPlaceholder)

		values = append(values,
			sessionID,
			t.Received.UTC(),
			t.Sequence,
			t.State,
			t.Flying,
			t.Emergency,
			t.BatteryLevel,
			t.Altitude,
			t.Pitch,
			t.Roll,
			t.Yaw,
			t.VX,
			t.VY,
			t.VZ,
		)
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting telemetry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) StoreConfiguration(ctx context.Context, sessionID int64, c *drone.DroneConfiguration) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	data, err := json.Marshal(c.Values())
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	_, err = db.ExecContext(ctx, insertConfigurationSQL, sessionID, c.Received().UTC(), c.Revision(), c.FirmwareVersion(), string(data))
	if err != nil {
		return fmt.Errorf("inserting configuration: %w", err)
	}

	return nil
}

func (s *SqliteStore) TelemetryCount(ctx context.Context, sessionID int64) (n int, err error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	err = db.QueryRowContext(ctx, countTelemetrySQL, sessionID).Scan(&n)
	return n, err
}

// Configurations returns the stored dumps of a session by revision.
func (s *SqliteStore) Configurations(ctx context.Context, sessionID int64) (res map[uint64]map[string]string, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectConfigurationsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying configurations: %w", err)
	}
	defer closeWithError(rows, &err)

	res = make(map[uint64]map[string]string)

	for rows.Next() {
		var (
			rev  uint64
			data string
		)
		if err = rows.Scan(&rev, &data); err != nil {
			return nil, fmt.Errorf("scanning configuration: %w", err)
		}

		values := make(map[string]string)
		if err = json.Unmarshal([]byte(data), &values); err != nil {
			return nil, fmt.Errorf("decoding configuration %d: %w", rev, err)
		}
		res[rev] = values
	}

	return res, rows.Err()
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
			s.db = nil
		}
	})

	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) && *err == nil {
		*err = rErr
	}
}
