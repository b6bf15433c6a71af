package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrInstallationClaimed means the installation is bound to another manager.
var ErrInstallationClaimed = errors.New("installation already bound to another manager")

// BindInstallation binds installationID to managerID. Rebinding a manager to
// a different installation replaces its binding.
func (s *Store) BindInstallation(ctx context.Context, managerID string, installationID int64, accountLogin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT manager_id FROM installation_bindings WHERE installation_id = ? AND manager_id != ? LIMIT 1`,
		installationID, managerID,
	).Scan(&owner)
	switch {
	case err == nil:
		return fmt.Errorf("store: installation %d: %w", installationID, ErrInstallationClaimed)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("store: failed to check installation binding: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO installation_bindings (manager_id, installation_id, account_login, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(manager_id) DO UPDATE SET installation_id = excluded.installation_id,
		   account_login = excluded.account_login, created_at = excluded.created_at`,
		managerID, installationID, accountLogin, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: failed to bind installation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit binding: %w", err)
	}
	return nil
}

// InstallationForManager returns the installation bound to managerID, or
// ErrNotFound.
func (s *Store) InstallationForManager(ctx context.Context, managerID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT installation_id FROM installation_bindings WHERE manager_id = ?`, managerID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: no installation for manager: %w", ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get installation binding: %w", err)
	}
	return id, nil
}

// ManagersForInstallation returns the managers bound to installationID.
func (s *Store) ManagersForInstallation(ctx context.Context, installationID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT manager_id FROM installation_bindings WHERE installation_id = ? ORDER BY manager_id`, installationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query bindings: %w", err)
	}
	defer rows.Close()

	var managers []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: failed to scan binding: %w", err)
		}
		managers = append(managers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to iterate bindings: %w", err)
	}
	return managers, nil
}

// UnbindInstallation removes every binding to installationID and returns the
// managers that were bound.
func (s *Store) UnbindInstallation(ctx context.Context, installationID int64) ([]string, error) {
	managers, err := s.ManagersForInstallation(ctx, installationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM installation_bindings WHERE installation_id = ?`, installationID,
	); err != nil {
		return nil, fmt.Errorf("store: failed to unbind installation: %w", err)
	}
	return managers, nil
}
