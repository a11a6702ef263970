package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/rulekit/rulekit/resolver"
)

// PostgresRuleSetStore implements RuleSetStore backed by PostgreSQL. The
// structured columns (applies_when, requires, rules, on_fail) are stored as
// JSONB.
type PostgresRuleSetStore struct {
	db *sql.DB
}

// NewPostgresRuleSetStore creates a new PostgreSQL-backed RuleSetStore
func NewPostgresRuleSetStore(db *sql.DB) *PostgresRuleSetStore {
	return &PostgresRuleSetStore{db: db}
}

type ruleSetRow struct {
	appliesWhen []byte
	requires    []byte
	rules       []byte
	onFail      []byte
}

func encodeRuleSet(rs *RuleSet) (ruleSetRow, error) {
	var row ruleSetRow
	var err error

	if row.appliesWhen, err = json.Marshal(rs.AppliesWhen); err != nil {
		return row, fmt.Errorf("failed to encode applies_when: %w", err)
	}
	if row.requires, err = json.Marshal(rs.Requires); err != nil {
		return row, fmt.Errorf("failed to encode requires: %w", err)
	}
	if row.rules, err = json.Marshal(rs.Rules); err != nil {
		return row, fmt.Errorf("failed to encode rules: %w", err)
	}
	if row.onFail, err = json.Marshal(rs.OnFail); err != nil {
		return row, fmt.Errorf("failed to encode on_fail: %w", err)
	}
	return row, nil
}

func decodeRuleSet(rs *RuleSet, row ruleSetRow) error {
	if len(row.appliesWhen) > 0 {
		if err := json.Unmarshal(row.appliesWhen, &rs.AppliesWhen); err != nil {
			return fmt.Errorf("failed to decode applies_when: %w", err)
		}
	}
	if len(row.requires) > 0 {
		var reqs []resolver.Requirement
		if err := json.Unmarshal(row.requires, &reqs); err != nil {
			return fmt.Errorf("failed to decode requires: %w", err)
		}
		rs.Requires = reqs
	}
	if len(row.rules) > 0 {
		if err := json.Unmarshal(row.rules, &rs.Rules); err != nil {
			return fmt.Errorf("failed to decode rules: %w", err)
		}
	}
	if len(row.onFail) > 0 && string(row.onFail) != "null" {
		if err := json.Unmarshal(row.onFail, &rs.OnFail); err != nil {
			return fmt.Errorf("failed to decode on_fail: %w", err)
		}
	}
	return nil
}

// Add inserts a new rule set into the database
func (s *PostgresRuleSetStore) Add(rs *RuleSet) error {
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rule_sets WHERE id = $1)
	`, rs.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule set existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule set with ID %s already exists", rs.ID)
	}

	row, err := encodeRuleSet(rs)
	if err != nil {
		return err
	}

	now := time.Now()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rule_sets (id, target, name, description, applies_when, requires, rules, on_fail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rs.ID, rs.Target, rs.Name, rs.Description,
		row.appliesWhen, row.requires, row.rules, row.onFail,
		rs.CreatedAt, rs.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}

	return nil
}

// Get retrieves a rule set by ID
func (s *PostgresRuleSetStore) Get(id string) (*RuleSet, error) {
	var rs RuleSet
	var row ruleSetRow
	err := s.db.QueryRow(`
		SELECT id, target, name, description, applies_when, requires, rules, on_fail, created_at, updated_at
		FROM rule_sets
		WHERE id = $1
	`, id).Scan(
		&rs.ID,
		&rs.Target,
		&rs.Name,
		&rs.Description,
		&row.appliesWhen,
		&row.requires,
		&row.rules,
		&row.onFail,
		&rs.CreatedAt,
		&rs.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule set %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}

	if err := decodeRuleSet(&rs, row); err != nil {
		return nil, err
	}
	return &rs, nil
}

// List returns all rule sets
func (s *PostgresRuleSetStore) List() ([]*RuleSet, error) {
	return s.query(`
		SELECT id, target, name, description, applies_when, requires, rules, on_fail, created_at, updated_at
		FROM rule_sets
		ORDER BY created_at ASC
	`)
}

// ListByTarget returns the rule sets registered for a target
func (s *PostgresRuleSetStore) ListByTarget(target string) ([]*RuleSet, error) {
	return s.query(`
		SELECT id, target, name, description, applies_when, requires, rules, on_fail, created_at, updated_at
		FROM rule_sets
		WHERE target = $1
		ORDER BY created_at ASC
	`, target)
}

func (s *PostgresRuleSetStore) query(q string, args ...any) ([]*RuleSet, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var ruleSets []*RuleSet
	for rows.Next() {
		var rs RuleSet
		var row ruleSetRow
		if err := rows.Scan(&rs.ID, &rs.Target, &rs.Name, &rs.Description,
			&row.appliesWhen, &row.requires, &row.rules, &row.onFail,
			&rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		if err := decodeRuleSet(&rs, row); err != nil {
			return nil, err
		}
		ruleSets = append(ruleSets, &rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}

	return ruleSets, nil
}

// Update modifies an existing rule set
func (s *PostgresRuleSetStore) Update(rs *RuleSet) error {
	row, err := encodeRuleSet(rs)
	if err != nil {
		return err
	}

	rs.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rule_sets
		SET target = $1, name = $2, description = $3, applies_when = $4,
		    requires = $5, rules = $6, on_fail = $7, updated_at = $8
		WHERE id = $9
	`, rs.Target, rs.Name, rs.Description,
		row.appliesWhen, row.requires, row.rules, row.onFail,
		rs.UpdatedAt, rs.ID)

	if err != nil {
		return fmt.Errorf("failed to update rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule set %s not found", rs.ID)
	}

	return nil
}

// Delete removes a rule set from the database
func (s *PostgresRuleSetStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rule_sets
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule set %s not found", id)
	}

	return nil
}
