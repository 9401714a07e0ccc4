package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/trip-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveJob(j *models.Job) error {
	_, err := p.db.Exec(`INSERT INTO jobs(id, service_kind, requester_id, agent_id, origin_lat, origin_lng, dest_lat, dest_lng, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		j.ID, string(j.Kind), j.RequesterID, nullable(j.AgentID), j.Origin.Lat, j.Origin.Lng, j.Destination.Lat, j.Destination.Lng, string(j.Status), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return err
	}
	return p.appendHistory(j)
}

func (p *PostgresStore) UpdateJob(j *models.Job) error {
	_, err := p.db.Exec(`UPDATE jobs SET agent_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		nullable(j.AgentID), string(j.Status), time.Now(), j.ID)
	if err != nil {
		return err
	}
	return p.appendHistory(j)
}

// appendHistory records the newest history entry. History rows are
// append-only; the seq column preserves apply order.
func (p *PostgresStore) appendHistory(j *models.Job) error {
	if len(j.History) == 0 {
		return nil
	}
	last := j.History[len(j.History)-1]
	_, err := p.db.Exec(`INSERT INTO job_status_history(job_id, seq, status, actor, at) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (job_id, seq) DO NOTHING`,
		j.ID, len(j.History)-1, string(last.Status), last.Actor, last.At)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
