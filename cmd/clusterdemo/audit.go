package main

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"clustermembership/internal/clustermember"
)

// deltaAuditLogger buffers committed delta events to a SQLite table,
// flushing on a timer or when the buffer fills — not core reconciliation
// state (persistence of ClusterState itself is out of scope), just a
// durable trail of what the connector observed, for after-the-fact
// debugging. Grounded on the audit package's buffered-logger idiom: batch
// inserts beat one INSERT per event under heavy membership churn.
type deltaAuditLogger struct {
	db            *sql.DB
	mu            sync.Mutex
	buffer        []auditRow
	maxBuffer     int
	flushInterval time.Duration
	stopCh        chan struct{}
}

type auditRow struct {
	timestamp int64
	kind      string
	memberID  string
}

func newDeltaAuditLogger(db *sql.DB, maxBuffer int, flushInterval time.Duration) *deltaAuditLogger {
	if maxBuffer <= 0 {
		maxBuffer = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &deltaAuditLogger{
		db:            db,
		buffer:        make([]auditRow, 0, maxBuffer),
		maxBuffer:     maxBuffer,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS membership_deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		kind TEXT NOT NULL,
		member_id TEXT NOT NULL
	)`)
	return err
}

func (l *deltaAuditLogger) Start() {
	go func() {
		ticker := time.NewTicker(l.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.flush(); err != nil {
					log.Printf("[audit] flush failed: %v", err)
				}
			case <-l.stopCh:
				if err := l.flush(); err != nil {
					log.Printf("[audit] final flush failed: %v", err)
				}
				return
			}
		}
	}()
}

func (l *deltaAuditLogger) Stop() { close(l.stopCh) }

// Record appends one delta to the buffer, flushing immediately if full.
func (l *deltaAuditLogger) Record(now time.Time, d clustermember.DeltaEvent) {
	l.mu.Lock()
	l.buffer = append(l.buffer, auditRow{
		timestamp: now.UnixMilli(),
		kind:      deltaKindName(d.Kind),
		memberID:  string(d.MemberID),
	})
	full := len(l.buffer) >= l.maxBuffer
	l.mu.Unlock()

	if full {
		if err := l.flush(); err != nil {
			log.Printf("[audit] flush failed: %v", err)
		}
	}
}

func (l *deltaAuditLogger) flush() error {
	l.mu.Lock()
	rows := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO membership_deltas (timestamp, kind, member_id) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row.timestamp, row.kind, row.memberID); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	return tx.Commit()
}

func deltaKindName(k clustermember.DeltaKind) string {
	switch k {
	case clustermember.DeltaLocalUpdated:
		return "LocalUpdated"
	case clustermember.DeltaLocalLeadershipUpdated:
		return "LocalLeadershipUpdated"
	case clustermember.DeltaSiblingAdded:
		return "SiblingAdded"
	case clustermember.DeltaSiblingUpdated:
		return "SiblingUpdated"
	case clustermember.DeltaSiblingRemoved:
		return "SiblingRemoved"
	case clustermember.DeltaLeaderChanged:
		return "LeaderChanged"
	case clustermember.DeltaCampaignStateChanged:
		return "CampaignStateChanged"
	case clustermember.DeltaMembershipDisconnected:
		return "MembershipDisconnected"
	case clustermember.DeltaLeaderElectionDisconnected:
		return "LeaderElectionDisconnected"
	default:
		return "Unknown"
	}
}
