// Package flightdb implements the flight-data query collaborator over
// a GORM-managed sqlite database seeded with the airline schedule.
package flightdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/traveler-leon/aeroflow/collab"
)

// Flight 航班记录
type Flight struct {
	FlightNumber  string `gorm:"column:flight_number;index" json:"flight_number"`
	Airline       string `gorm:"column:airline" json:"airline"`
	DepartureCity string `gorm:"column:departure_city" json:"departure_city"`
	ArrivalCity   string `gorm:"column:arrival_city" json:"arrival_city"`
	DepartureTime string `gorm:"column:departure_time" json:"departure_time"`
	ArrivalTime   string `gorm:"column:arrival_time" json:"arrival_time"`
	Terminal      string `gorm:"column:terminal" json:"terminal"`
	Gate          string `gorm:"column:gate" json:"gate"`
	Status        string `gorm:"column:status" json:"status"`
	DelayMinutes  int    `gorm:"column:delay_minutes" json:"delay_minutes"`
}

func (Flight) TableName() string { return "flights" }

// seedFlights 内置航班表
var seedFlights = []Flight{
	{"CA1384", "中国国航", "北京", "上海", "2025-04-08 14:30:00", "2025-04-08 16:45:00", "T3", "C12", "准点", 0},
	{"MU5735", "东方航空", "北京", "昆明", "2025-04-09 08:15:00", "2025-04-09 11:30:00", "T2", "D05", "准点", 0},
	{"CZ3215", "南方航空", "广州", "北京", "2025-04-08 16:20:00", "2025-04-08 19:10:00", "T2", "B08", "延误", 45},
	{"HU7142", "海南航空", "北京", "深圳", "2025-04-08 13:40:00", "2025-04-08 16:50:00", "T1", "A22", "取消", 0},
	{"CA1234", "中国国航", "北京", "成都", "2025-04-08 18:25:00", "2025-04-08 21:15:00", "T3", "C05", "延误", 30},
}

// DB is the GORM-backed collab.Querier.
type DB struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open creates (or opens) the flight database at path and ensures the
// schema and seed rows exist. Use ":memory:" for an ephemeral database.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = ":memory:"
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open flight db: %w", err)
	}
	if err := gdb.AutoMigrate(&Flight{}); err != nil {
		return nil, fmt.Errorf("migrate flights table: %w", err)
	}

	var count int64
	if err := gdb.Model(&Flight{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count flights: %w", err)
	}
	if count == 0 {
		if err := gdb.Create(&seedFlights).Error; err != nil {
			return nil, fmt.Errorf("seed flights: %w", err)
		}
	}

	logger.Info("flight db ready", zap.String("path", path), zap.Int("seed_rows", len(seedFlights)))
	return &DB{db: gdb, logger: logger.With(zap.String("component", "flightdb"))}, nil
}

// query is the structured form BuildQuery serializes; Run decodes it
// back. Keeping the wire form JSON keeps the Querier contract a plain
// (string -> rows) pair.
type query struct {
	FlightNumber  string `json:"flight_number,omitempty"`
	Airline       string `json:"airline,omitempty"`
	DepartureCity string `json:"departure_city,omitempty"`
	ArrivalCity   string `json:"arrival_city,omitempty"`
	Status        string `json:"status,omitempty"`
	Broad         bool   `json:"broad,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// BuildQuery turns extracted parameters into a query text. Parameters
// are complete when a flight number is present, or both departure and
// arrival cities are.
func (d *DB) BuildQuery(_ context.Context, params map[string]any) (string, error) {
	q := query{
		FlightNumber:  strField(params, "flight_number"),
		Airline:       strField(params, "airline"),
		DepartureCity: strField(params, "departure_city"),
		ArrivalCity:   strField(params, "arrival_city"),
		Status:        strField(params, "status"),
	}
	if b, ok := params["broad"].(bool); ok {
		q.Broad = b
	}
	if q.FlightNumber == "" && !q.Broad && (q.DepartureCity == "" || q.ArrivalCity == "") && q.Status == "" {
		return "", fmt.Errorf("insufficient flight query parameters")
	}
	data, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BroadQuery returns the degraded condition-free query used after
// repeated failures of a precise one.
func (d *DB) BroadQuery(limit int) string {
	data, _ := json.Marshal(query{Broad: true, Limit: limit})
	return string(data)
}

// Run executes a query produced by BuildQuery.
func (d *DB) Run(ctx context.Context, queryText string) ([]map[string]any, error) {
	var q query
	if err := json.Unmarshal([]byte(queryText), &q); err != nil {
		return nil, fmt.Errorf("malformed flight query %q: %w", queryText, err)
	}

	tx := d.db.WithContext(ctx).Model(&Flight{})
	if !q.Broad {
		if q.FlightNumber != "" {
			tx = tx.Where("flight_number = ?", strings.ToUpper(q.FlightNumber))
		}
		if q.Airline != "" {
			tx = tx.Where("airline = ?", q.Airline)
		}
		if q.DepartureCity != "" {
			tx = tx.Where("departure_city = ?", q.DepartureCity)
		}
		if q.ArrivalCity != "" {
			tx = tx.Where("arrival_city = ?", q.ArrivalCity)
		}
		if q.Status != "" {
			tx = tx.Where("status = ?", q.Status)
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var flights []Flight
	if err := tx.Limit(limit).Find(&flights).Error; err != nil {
		return nil, fmt.Errorf("flight query failed: %w", err)
	}

	rows := make([]map[string]any, 0, len(flights))
	for _, f := range flights {
		rows = append(rows, map[string]any{
			"flight_number":  f.FlightNumber,
			"airline":        f.Airline,
			"departure_city": f.DepartureCity,
			"arrival_city":   f.ArrivalCity,
			"departure_time": f.DepartureTime,
			"arrival_time":   f.ArrivalTime,
			"terminal":       f.Terminal,
			"gate":           f.Gate,
			"status":         f.Status,
			"delay_minutes":  f.DelayMinutes,
		})
	}
	return rows, nil
}

func strField(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

var _ collab.Querier = (*DB)(nil)
