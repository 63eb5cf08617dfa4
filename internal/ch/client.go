package ch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"visitguard/internal/model"
)

// Client wraps a ClickHouse connection.
type Client struct {
	db *sql.DB
}

// New creates a ClickHouse client from a DSN.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSchema creates the visits table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS visits
(
  visit_id         String,
  created_at       DateTime64(3, 'UTC'),
  event_date       Date,
  website_id       LowCardinality(String),
  tenant_id        LowCardinality(String),
  session_id       String,
  new_session      UInt8,
  identity_method  LowCardinality(String),
  event_type       LowCardinality(String),
  event_name       String,
  url              String,
  referrer         String,
  ip               String,
  user_agent       String,
  device_type      LowCardinality(String),
  browser          LowCardinality(String),
  os               LowCardinality(String),
  country          LowCardinality(String),
  country_code     LowCardinality(String),
  region           String,
  city             String,
  lat              Float64,
  lon              Float64,
  isp              String,
  geo_accuracy     LowCardinality(String),
  is_vpn           UInt8,
  is_proxy         UInt8,
  is_tor           UInt8,
  is_hosting       UInt8,
  is_bot           UInt8,
  bot_type         LowCardinality(String),
  fraud_score      UInt8,
  fraud_factors    String,
  suspicious       String,
  _ingested_at     DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (website_id, event_date, session_id, created_at)`
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

// InsertBatch writes a batch of visits with a single prepared statement.
func (c *Client) InsertBatch(ctx context.Context, visits []model.Visit) error {
	if len(visits) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO visits (
	visit_id, created_at, event_date, website_id, tenant_id, session_id, new_session,
	identity_method, event_type, event_name, url, referrer, ip, user_agent,
	device_type, browser, os, country, country_code, region, city, lat, lon, isp,
	geo_accuracy, is_vpn, is_proxy, is_tor, is_hosting, is_bot, bot_type,
	fraud_score, fraud_factors, suspicious, _ingested_at
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	ingested := time.Now().UTC()
	for _, v := range visits {
		row, err := visitRow(v, ingested)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func visitRow(v model.Visit, ingested time.Time) ([]any, error) {
	factors, err := json.Marshal(v.Fraud.Factors)
	if err != nil {
		return nil, err
	}
	suspicious, err := json.Marshal(v.Suspicious)
	if err != nil {
		return nil, err
	}
	created := v.CreatedAt.UTC()
	return []any{
		v.ID,
		created,
		created.Truncate(24 * time.Hour),
		v.WebsiteID,
		v.TenantID,
		v.SessionID,
		boolToUInt8(v.NewSession),
		v.IdentityMethod,
		string(v.EventType),
		v.EventName,
		v.URL,
		v.Referrer,
		v.IP,
		v.UserAgent,
		v.DeviceType,
		v.Browser,
		v.OS,
		v.Location.Country,
		v.Location.CountryCode,
		v.Location.Region,
		v.Location.City,
		v.Location.Lat,
		v.Location.Lon,
		v.Location.ISP,
		string(v.Location.Accuracy),
		boolToUInt8(v.Threat.IsVPN),
		boolToUInt8(v.Threat.IsProxy),
		boolToUInt8(v.Threat.IsTor),
		boolToUInt8(v.Threat.IsHosting),
		boolToUInt8(v.Bot.IsBot),
		v.Bot.BotType,
		uint8(v.Fraud.Score),
		string(factors),
		string(suspicious),
		ingested,
	}, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// CountVisits returns the total rows for a website, or all rows when websiteID is empty.
func (c *Client) CountVisits(ctx context.Context, websiteID string) (int64, error) {
	var row *sql.Row
	if websiteID == "" {
		row = c.db.QueryRowContext(ctx, `SELECT count() FROM visits`)
	} else {
		row = c.db.QueryRowContext(ctx, `SELECT count() FROM visits WHERE website_id = ?`, websiteID)
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Ping ensures the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}
