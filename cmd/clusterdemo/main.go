package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clustermembership/internal/clustermember"
	"clustermembership/internal/connector"
	"clustermembership/internal/fakesubstrate"
)

const version = "0.1.0"

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9100", "Listen address for the status/websocket HTTP server")
	dbPath := flag.String("db", "clusterdemo.db", "Path to the SQLite delta-audit database")
	memberID := flag.String("member-id", "", "Unique ID for this process (default: hostname)")
	joinLeadership := flag.Bool("join-leadership", true, "Join the leader-election pool on startup")
	heartbeatMs := flag.Int("heartbeat-ms", 5000, "Heartbeat interval in milliseconds")
	staleThresholdMs := flag.Int("stale-threshold-ms", 15000, "Sibling staleness threshold in milliseconds")
	flag.Parse()

	id := *memberID
	if id == "" {
		if host, err := os.Hostname(); err == nil {
			id = host
		} else {
			log.Printf("hostname unavailable (%v), generating a random member id", err)
			id = string(clustermember.NewMemberID())
		}
	}

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := ensureAuditSchema(db); err != nil {
		log.Fatalf("audit schema init failed: %v", err)
	}

	auditLogger := newDeltaAuditLogger(db, 50, 5*time.Second)
	auditLogger.Start()
	defer auditLogger.Stop()

	cfg := clustermember.Config{
		HeartbeatInterval: time.Duration(*heartbeatMs) * time.Millisecond,
		StaleThreshold:    time.Duration(*staleThresholdMs) * time.Millisecond,
	}

	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	substrate := fakesubstrate.NewClient(hub, clustermember.MemberID(id))

	c := connector.New(clustermember.MemberID(id), clustermember.ClusterMember{
		Active: true, Enabled: true,
	}, cfg, substrate, substrate)

	if _, err := c.Register(context.Background(), func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		m.Registered = true
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: 1}
	}); err != nil {
		log.Fatalf("initial registration failed: %v", err)
	}
	log.Printf("clusterdemo %s: registered as %s", version, id)

	if *joinLeadership {
		if err := c.JoinLeadershipGroup(context.Background()); err != nil {
			log.Printf("join leadership group failed: %v", err)
		}
	}

	wsHub := newStatusHub()
	go wsHub.run()

	go watchAndPublish(c, wsHub, auditLogger)

	router := newRouter(c, wsHub)
	server := &http.Server{Addr: *listenAddr, Handler: router}
	go func() {
		log.Printf("clusterdemo listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("clusterdemo shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if _, err := c.Unregister(context.Background(), func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: c.GetLocalMember().RevisionNumber + 1}
	}); err != nil {
		log.Printf("unregister failed: %v", err)
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		log.Printf("connector shutdown failed: %v", err)
	}
}

// watchAndPublish forwards every committed delta batch to the websocket hub
// and the audit trail for as long as the connector is alive.
func watchAndPublish(c *connector.Connector, wsHub *statusHub, auditLogger *deltaAuditLogger) {
	updates, cancel := c.MembershipChangeEvents()
	defer cancel()

	for update := range updates {
		if len(update.Deltas) == 0 {
			continue
		}
		now := time.Now()
		kinds := make([]string, 0, len(update.Deltas))
		for _, d := range update.Deltas {
			kinds = append(kinds, deltaKindName(d.Kind))
			auditLogger.Record(now, d)
		}

		leaderID := ""
		if leader, ok := update.Snapshot.CurrentLeader(); ok {
			leaderID = string(leader.Payload.MemberID)
		}
		wsHub.Publish(statusEvent{
			Timestamp:    now,
			DeltaKinds:   kinds,
			LocalRevNum:  update.Snapshot.LocalMember().RevisionNumber,
			SiblingCount: len(update.Snapshot.Siblings()),
			Leader:       leaderID,
		})
	}
}
