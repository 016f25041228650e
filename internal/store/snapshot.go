package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DeusData/pallet-audit/internal/model"
	"github.com/DeusData/pallet-audit/internal/registry"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("store: no snapshot")

// Snapshot is one annotated inventory.
type Snapshot struct {
	RunID     string
	Root      string
	Digest    string
	CreatedAt time.Time
	Assets    []model.Asset
	// Vulnerabilities is keyed by asset name (which need not be registered).
	Vulnerabilities map[string][]model.Threat
}

// SnapshotOf captures the assets and the whole vulnerability index of reg,
// including threats recorded under names that are not registered.
func SnapshotOf(root, digest string, reg *registry.Registry) *Snapshot {
	vulns := make(map[string][]model.Threat)
	for _, name := range reg.VulnerableNames() {
		vulns[name] = reg.Vulnerabilities(name)
	}
	return &Snapshot{Root: root, Digest: digest, Assets: reg.Assets(), Vulnerabilities: vulns}
}

// Save replaces the stored snapshot with snap. An empty RunID gets a fresh
// UUID and a zero CreatedAt becomes now; both are written back to snap.
func (s *Store) Save(snap *Snapshot) error {
	if snap.RunID == "" {
		snap.RunID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	err := s.WithTransaction(func(tx *Store) error {
		for _, table := range []string{"snapshot", "assets", "vulnerabilities"} {
			if _, err := tx.q.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.q.Exec(
			"INSERT INTO snapshot (id, run_id, root_path, digest, created_at) VALUES (1, ?, ?, ?, ?)",
			snap.RunID, snap.Root, snap.Digest, snap.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		for i, a := range snap.Assets {
			if err := tx.insertAsset(i, a); err != nil {
				return err
			}
		}
		for name, threats := range snap.Vulnerabilities {
			for seq, th := range threats {
				if _, err := tx.q.Exec(
					"INSERT INTO vulnerabilities (name, seq, threat, check_kind) VALUES (?, ?, ?, ?)",
					name, seq, string(th.Name), string(th.HowToCheck),
				); err != nil {
					return fmt.Errorf("insert vulnerability %s: %w", name, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("store.saved", "run_id", snap.RunID, "assets", len(snap.Assets), "path", s.dbPath)
	return nil
}

// insertAsset upserts by name so a duplicate name overwrites in place,
// matching registry semantics.
func (s *Store) insertAsset(pos int, a model.Asset) error {
	cat, err := json.Marshal(a.Category)
	if err != nil {
		return fmt.Errorf("marshal category %s: %w", a.Name, err)
	}
	props, err := json.Marshal(a.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties %s: %w", a.Name, err)
	}
	_, err = s.q.Exec(`
		INSERT INTO assets (position, name, visibility, kind, risk_level, category, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			visibility=excluded.visibility, kind=excluded.kind, risk_level=excluded.risk_level,
			category=excluded.category, properties=excluded.properties`,
		pos, a.Name, string(a.Visibility), string(a.Category.Kind), a.Properties.RiskLevel.String(),
		string(cat), string(props))
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", a.Name, err)
	}
	return nil
}

// Load returns the stored snapshot or ErrNoSnapshot.
func (s *Store) Load() (*Snapshot, error) {
	snap := &Snapshot{Vulnerabilities: map[string][]model.Threat{}}
	var created string
	err := s.q.QueryRow("SELECT run_id, root_path, digest, created_at FROM snapshot WHERE id = 1").
		Scan(&snap.RunID, &snap.Root, &snap.Digest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}

	if snap.Assets, err = s.queryAssets("SELECT name, visibility, category, properties FROM assets ORDER BY position"); err != nil {
		return nil, err
	}

	rows, err := s.q.Query("SELECT name, threat, check_kind FROM vulnerabilities ORDER BY name, seq")
	if err != nil {
		return nil, fmt.Errorf("load vulnerabilities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, th, check string
		if err := rows.Scan(&name, &th, &check); err != nil {
			return nil, err
		}
		snap.Vulnerabilities[name] = append(snap.Vulnerabilities[name],
			model.Threat{Name: model.ThreatType(th), HowToCheck: model.SecurityCheck(check)})
	}
	return snap, rows.Err()
}

// AssetsByRisk returns stored assets at exactly level, in inventory order.
func (s *Store) AssetsByRisk(level model.RiskLevel) ([]model.Asset, error) {
	return s.queryAssets("SELECT name, visibility, category, properties FROM assets WHERE risk_level = ? ORDER BY position", level.String())
}

// CountByRisk tallies stored assets per risk level.
func (s *Store) CountByRisk() (map[model.RiskLevel]int, error) {
	rows, err := s.q.Query("SELECT risk_level, COUNT(*) FROM assets GROUP BY risk_level")
	if err != nil {
		return nil, fmt.Errorf("count by risk: %w", err)
	}
	defer rows.Close()
	out := map[model.RiskLevel]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		lvl, err := model.ParseRiskLevel(name)
		if err != nil {
			return nil, err
		}
		out[lvl] = n
	}
	return out, rows.Err()
}

func (s *Store) queryAssets(query string, args ...any) ([]model.Asset, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	out := []model.Asset{}
	for rows.Next() {
		var a model.Asset
		var vis, cat, props string
		if err := rows.Scan(&a.Name, &vis, &cat, &props); err != nil {
			return nil, err
		}
		a.Visibility = model.Visibility(vis)
		if err := json.Unmarshal([]byte(cat), &a.Category); err != nil {
			return nil, fmt.Errorf("decode category %s: %w", a.Name, err)
		}
		if err := json.Unmarshal([]byte(props), &a.Properties); err != nil {
			return nil, fmt.Errorf("decode properties %s: %w", a.Name, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
