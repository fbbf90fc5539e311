package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const loanColumns = `
	l.id, l.contact_id, l.loan_type, l.stage, l.amount::float8, l.interest_rate::float8, l.term_months,
	COALESCE(l.property_address, ''), COALESCE(l.property_city, ''), COALESCE(l.property_state, ''),
	COALESCE(l.property_zip, ''), l.estimated_value::float8, l.down_payment::float8, l.credit_score,
	l.annual_income::float8, l.debt_to_income_ratio::float8, COALESCE(l.lender, ''), COALESCE(l.loan_number, ''),
	COALESCE(to_char(l.closing_date, 'YYYY-MM-DD'), ''), COALESCE(l.notes, ''), COALESCE(l.owner_id, ''),
	COALESCE(c.first_name || ' ' || c.last_name, ''), l.created_at, l.updated_at`

const loanFrom = ` FROM loans l LEFT JOIN contacts c ON c.id = l.contact_id`

func scanLoan(row rowScanner) (Loan, error) {
	var l Loan
	var amount, rate, estimated, down, income, dti sql.NullFloat64
	var term, credit sql.NullInt64
	err := row.Scan(
		&l.ID, &l.ContactID, &l.LoanType, &l.Stage, &amount, &rate, &term,
		&l.PropertyAddress, &l.PropertyCity, &l.PropertyState,
		&l.PropertyZip, &estimated, &down, &credit,
		&income, &dti, &l.Lender, &l.LoanNumber,
		&l.ClosingDate, &l.Notes, &l.OwnerID,
		&l.ContactName, &l.CreatedAt, &l.UpdatedAt,
	)
	l.Amount = floatPtr(amount)
	l.InterestRate = floatPtr(rate)
	l.TermMonths = intPtr(term)
	l.EstimatedValue = floatPtr(estimated)
	l.DownPayment = floatPtr(down)
	l.CreditScore = intPtr(credit)
	l.AnnualIncome = floatPtr(income)
	l.DebtToIncomeRatio = floatPtr(dti)
	return l, err
}

func (s *PostgresStore) CreateLoan(ctx context.Context, l Loan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loans (
			id, contact_id, loan_type, stage, amount, interest_rate, term_months,
			property_address, property_city, property_state, property_zip, estimated_value,
			down_payment, credit_score, annual_income, debt_to_income_ratio, lender, loan_number,
			closing_date, notes, owner_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12,
			$13, $14, $15, $16, NULLIF($17, ''), NULLIF($18, ''),
			NULLIF($19, '')::date, NULLIF($20, ''), NULLIF($21, '')
		)
	`, l.ID, l.ContactID, l.LoanType, l.Stage, l.Amount, l.InterestRate, l.TermMonths,
		l.PropertyAddress, l.PropertyCity, l.PropertyState, l.PropertyZip, l.EstimatedValue,
		l.DownPayment, l.CreditScore, l.AnnualIncome, l.DebtToIncomeRatio, l.Lender, l.LoanNumber,
		l.ClosingDate, l.Notes, l.OwnerID)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLoan(ctx context.Context, l Loan) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE loans SET
			contact_id=$2, loan_type=$3, stage=$4, amount=$5, interest_rate=$6, term_months=$7,
			property_address=NULLIF($8, ''), property_city=NULLIF($9, ''), property_state=NULLIF($10, ''),
			property_zip=NULLIF($11, ''), estimated_value=$12, down_payment=$13, credit_score=$14,
			annual_income=$15, debt_to_income_ratio=$16, lender=NULLIF($17, ''), loan_number=NULLIF($18, ''),
			closing_date=NULLIF($19, '')::date, notes=NULLIF($20, ''), updated_at=NOW()
		WHERE id=$1
	`, l.ID, l.ContactID, l.LoanType, l.Stage, l.Amount, l.InterestRate, l.TermMonths,
		l.PropertyAddress, l.PropertyCity, l.PropertyState, l.PropertyZip, l.EstimatedValue,
		l.DownPayment, l.CreditScore, l.AnnualIncome, l.DebtToIncomeRatio, l.Lender, l.LoanNumber,
		l.ClosingDate, l.Notes)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	return requireAffected(res, "update loan")
}

func (s *PostgresStore) SetLoanStage(ctx context.Context, id, stage string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE loans SET stage=$2, updated_at=NOW() WHERE id=$1`, id, stage)
	if err != nil {
		return fmt.Errorf("update loan stage: %w", err)
	}
	return requireAffected(res, "update loan stage")
}

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (Loan, error) {
	l, err := scanLoan(s.q.QueryRowContext(ctx, `SELECT `+loanColumns+loanFrom+` WHERE l.id=$1`, id))
	if err != nil {
		return Loan{}, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) DeleteLoan(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM loans WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return requireAffected(res, "delete loan")
}

func (s *PostgresStore) ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, int, error) {
	var where []string
	var args []any
	if filter.Stage != "" {
		args = append(args, filter.Stage)
		where = append(where, fmt.Sprintf("l.stage = $%d", len(args)))
	}
	if filter.ContactID != "" {
		args = append(args, filter.ContactID)
		where = append(where, fmt.Sprintf("l.contact_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans l`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}

	query := `SELECT ` + loanColumns + loanFrom + clause + ` ORDER BY l.created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	items := make([]Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan loan: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) InsertLoanActivity(ctx context.Context, a LoanActivity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loan_activities (id, loan_id, type, description, metadata, user_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, a.ID, a.LoanID, a.Type, a.Description, nullableJSON(a.Metadata), a.UserID)
	if err != nil {
		return fmt.Errorf("insert loan activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLoanActivities(ctx context.Context, loanID string) ([]LoanActivity, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, type, description, metadata, COALESCE(user_id, ''), created_at
		FROM loan_activities WHERE loan_id=$1
		ORDER BY created_at DESC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list loan activities: %w", err)
	}
	defer rows.Close()

	items := make([]LoanActivity, 0)
	for rows.Next() {
		var a LoanActivity
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.LoanID, &a.Type, &a.Description, &metadata, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loan activity: %w", err)
		}
		if len(metadata) > 0 {
			a.Metadata = metadata
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const conditionColumns = `id, loan_id, title, COALESCE(description, ''), status,
	COALESCE(to_char(due_date, 'YYYY-MM-DD'), ''), cleared_at, created_at`

func scanCondition(row rowScanner) (LoanCondition, error) {
	var c LoanCondition
	var clearedAt sql.NullTime
	err := row.Scan(&c.ID, &c.LoanID, &c.Title, &c.Description, &c.Status, &c.DueDate, &clearedAt, &c.CreatedAt)
	c.ClearedAt = timePtr(clearedAt)
	return c, err
}

func (s *PostgresStore) CreateCondition(ctx context.Context, c LoanCondition) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loan_conditions (id, loan_id, title, description, status, due_date)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, '')::date)
	`, c.ID, c.LoanID, c.Title, c.Description, c.Status, c.DueDate)
	if err != nil {
		return fmt.Errorf("insert condition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCondition(ctx context.Context, id string) (LoanCondition, error) {
	c, err := scanCondition(s.q.QueryRowContext(ctx, `SELECT `+conditionColumns+` FROM loan_conditions WHERE id=$1`, id))
	if err != nil {
		return LoanCondition{}, fmt.Errorf("get condition: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SetConditionStatus(ctx context.Context, id, status string, clearedAt *time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE loan_conditions SET status=$2, cleared_at=$3 WHERE id=$1`, id, status, clearedAt)
	if err != nil {
		return fmt.Errorf("update condition: %w", err)
	}
	return requireAffected(res, "update condition")
}

func (s *PostgresStore) ListConditions(ctx context.Context, loanID string) ([]LoanCondition, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+conditionColumns+` FROM loan_conditions WHERE loan_id=$1 ORDER BY created_at
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()

	items := make([]LoanCondition, 0)
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
