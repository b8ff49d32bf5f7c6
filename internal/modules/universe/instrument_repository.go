package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/database"
)

// executor is satisfied by both *sql.DB and *sql.Tx so upserts can run
// standalone or inside a batch transaction.
type executor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// instrumentColumns is the explicit column list for the instruments table.
// Used instead of SELECT * so schema additions cannot silently shift scans.
const instrumentColumns = `isin, ticker, name, currency, sector, country,
priority, quantity, active, created_at, updated_at`

// InstrumentRepository handles instrument database operations.
type InstrumentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewInstrumentRepository creates a new instrument repository.
func NewInstrumentRepository(db *sql.DB, log zerolog.Logger) *InstrumentRepository {
	return &InstrumentRepository{
		db:  db,
		log: log.With().Str("repo", "instrument").Logger(),
	}
}

// EnsureSchema creates the instruments table when missing.
func (r *InstrumentRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS instruments (
			ticker     TEXT PRIMARY KEY,
			isin       TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL DEFAULT '',
			currency   TEXT NOT NULL DEFAULT '',
			sector     TEXT,
			country    TEXT,
			priority   REAL NOT NULL DEFAULT 0,
			quantity   REAL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instruments_isin ON instruments(isin);
		CREATE INDEX IF NOT EXISTS idx_instruments_active ON instruments(active);
	`)
	if err != nil {
		return fmt.Errorf("failed to create instruments schema: %w", err)
	}
	return nil
}

// GetByTicker returns an instrument by ticker, or (nil, nil) when absent.
func (r *InstrumentRepository) GetByTicker(ticker string) (*Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments WHERE ticker = ?"

	rows, err := r.db.Query(query, strings.ToUpper(strings.TrimSpace(ticker)))
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument by ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	instrument, err := scanInstrument(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan instrument: %w", err)
	}
	return &instrument, nil
}

// GetByISIN returns the first instrument carrying the ISIN, or (nil, nil).
func (r *InstrumentRepository) GetByISIN(isin string) (*Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments WHERE isin = ? ORDER BY priority DESC LIMIT 1"

	rows, err := r.db.Query(query, strings.ToUpper(strings.TrimSpace(isin)))
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument by ISIN: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	instrument, err := scanInstrument(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan instrument: %w", err)
	}
	return &instrument, nil
}

// ListActive returns every active instrument ordered by priority descending,
// then ticker for stable ordering.
func (r *InstrumentRepository) ListActive() ([]Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments WHERE active = 1 ORDER BY priority DESC, ticker ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active instruments: %w", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		instrument, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, instrument)
	}
	return instruments, rows.Err()
}

// ListAll returns every instrument, active or not.
func (r *InstrumentRepository) ListAll() ([]Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments ORDER BY ticker ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		instrument, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, instrument)
	}
	return instruments, rows.Err()
}

// Upsert inserts or updates one instrument keyed by ticker.
func (r *InstrumentRepository) Upsert(instrument *Instrument) error {
	return upsertInstrument(r.db, instrument)
}

// UpsertMany stores a batch atomically. Either every instrument lands or
// none do.
func (r *InstrumentRepository) UpsertMany(instruments []Instrument) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for i := range instruments {
			if err := upsertInstrument(tx, &instruments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertInstrument(ex executor, instrument *Instrument) error {
	now := time.Now().Unix()
	ticker := strings.ToUpper(strings.TrimSpace(instrument.Ticker))
	if ticker == "" {
		return fmt.Errorf("instrument ticker is required")
	}

	_, err := ex.Exec(`
		INSERT INTO instruments (ticker, isin, name, currency, sector, country, priority, quantity, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			isin       = excluded.isin,
			name       = excluded.name,
			currency   = excluded.currency,
			sector     = excluded.sector,
			country    = excluded.country,
			priority   = excluded.priority,
			quantity   = excluded.quantity,
			active     = excluded.active,
			updated_at = excluded.updated_at`,
		ticker,
		strings.ToUpper(strings.TrimSpace(instrument.ISIN)),
		strings.TrimSpace(instrument.Name),
		strings.ToUpper(strings.TrimSpace(instrument.Currency)),
		instrument.Sector,
		instrument.Country,
		instrument.Priority,
		instrument.Quantity,
		boolToInt(instrument.Active),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instrument %s: %w", ticker, err)
	}
	return nil
}

// SetActive flips the active flag for a ticker.
func (r *InstrumentRepository) SetActive(ticker string, active bool) error {
	result, err := r.db.Exec(
		"UPDATE instruments SET active = ?, updated_at = ? WHERE ticker = ?",
		boolToInt(active), time.Now().Unix(), strings.ToUpper(strings.TrimSpace(ticker)),
	)
	if err != nil {
		return fmt.Errorf("failed to update instrument active flag: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("instrument %s not found", ticker)
	}
	return nil
}

// Delete removes an instrument.
func (r *InstrumentRepository) Delete(ticker string) error {
	_, err := r.db.Exec("DELETE FROM instruments WHERE ticker = ?", strings.ToUpper(strings.TrimSpace(ticker)))
	if err != nil {
		return fmt.Errorf("failed to delete instrument %s: %w", ticker, err)
	}
	return nil
}

// Count returns the number of instruments, active-only when activeOnly.
func (r *InstrumentRepository) Count(activeOnly bool) (int, error) {
	query := "SELECT COUNT(*) FROM instruments"
	if activeOnly {
		query += " WHERE active = 1"
	}
	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count instruments: %w", err)
	}
	return count, nil
}

func scanInstrument(rows *sql.Rows) (Instrument, error) {
	var i Instrument
	var active int
	var createdAt, updatedAt int64
	err := rows.Scan(
		&i.ISIN, &i.Ticker, &i.Name, &i.Currency, &i.Sector, &i.Country,
		&i.Priority, &i.Quantity, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		return Instrument{}, err
	}
	i.Active = active != 0
	i.CreatedAt = time.Unix(createdAt, 0)
	i.UpdatedAt = time.Unix(updatedAt, 0)
	return i, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
