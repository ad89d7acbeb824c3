// Package bizapi implements the transactional business-API
// collaborator: check-in, rebooking, refund, baggage and lost-and-found
// services with field validation and a MISSING_PARAMS envelope.
package bizapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
)

// 业务类型
const (
	ServiceCheckIn   = "值机"
	ServiceRebook    = "改签"
	ServiceRefund    = "退票"
	ServiceBaggage   = "行李托运"
	ServiceLostFound = "遗失物品查询"
)

// RequiredParams lists the fields each service type needs before
// confirmation can proceed.
func RequiredParams(serviceType string) []string {
	switch serviceType {
	case ServiceCheckIn:
		return []string{"flight_number", "passenger_name"}
	case ServiceRebook:
		return []string{"flight_number", "new_date", "passenger_name"}
	case ServiceRefund:
		return []string{"flight_number", "passenger_name"}
	case ServiceBaggage:
		return []string{"flight_number", "passenger_name", "baggage_weight"}
	case ServiceLostFound:
		return []string{"item_description"}
	default:
		return nil
	}
}

type checkInFlight struct {
	flightNumber   string
	date           string
	passengerName  string
	availableSeats []string
}

// Mock is an in-process collab.BusinessAPI standing in for the airline
// systems. It records every processed transaction.
type Mock struct {
	mu        sync.Mutex
	logger    *zap.Logger
	flights   []checkInFlight
	processed []string
}

// NewMock 创建模拟业务 API
func NewMock(logger *zap.Logger) *Mock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mock{
		logger: logger.With(zap.String("component", "bizapi")),
		flights: []checkInFlight{
			{"CA1384", "2025-04-08", "张三", []string{"12A", "12B", "14C", "15F", "20D"}},
			{"MU5735", "2025-04-09", "李四", []string{"2A", "5B", "8C", "10F", "25D"}},
		},
	}
}

// ProcessedCount returns how many transactions completed successfully.
func (m *Mock) ProcessedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

func (m *Mock) Call(_ context.Context, serviceType string, params map[string]any) (*collab.CallResult, error) {
	if missing := missingFields(serviceType, params); len(missing) > 0 {
		return &collab.CallResult{
			Success:       false,
			Error:         "缺少必要信息",
			ErrorCode:     "MISSING_PARAMS",
			MissingFields: missing,
		}, nil
	}

	switch serviceType {
	case ServiceCheckIn:
		return m.checkIn(params), nil
	case ServiceRebook:
		return m.rebook(params), nil
	case ServiceRefund:
		return m.refund(params), nil
	case ServiceBaggage:
		return m.baggage(params), nil
	case ServiceLostFound:
		return m.lostFound(params), nil
	default:
		return &collab.CallResult{
			Success:   false,
			Error:     "不支持的业务类型",
			ErrorCode: "UNSUPPORTED_SERVICE",
		}, nil
	}
}

func (m *Mock) checkIn(params map[string]any) *collab.CallResult {
	flightNumber := str(params, "flight_number")
	passengerName := str(params, "passenger_name")
	preference := str(params, "seat_preference")

	m.mu.Lock()
	defer m.mu.Unlock()
	var flight *checkInFlight
	for i := range m.flights {
		if m.flights[i].flightNumber == flightNumber && m.flights[i].passengerName == passengerName {
			flight = &m.flights[i]
			break
		}
	}
	if flight == nil {
		return &collab.CallResult{
			Success:   false,
			Error:     "未找到匹配的航班信息",
			ErrorCode: "FLIGHT_NOT_FOUND",
		}
	}

	seat := assignSeat(flight.availableSeats, preference)
	gate, boarding := "C12", "13:30"
	if !strings.HasPrefix(flightNumber, "CA") {
		gate, boarding = "D05", "07:15"
	}

	m.processed = append(m.processed, ServiceCheckIn)
	return &collab.CallResult{
		Success: true,
		Data: map[string]any{
			"flight_number":  flightNumber,
			"passenger_name": passengerName,
			"seat":           seat,
			"gate":           gate,
			"boarding_time":  boarding,
		},
	}
}

func (m *Mock) rebook(params map[string]any) *collab.CallResult {
	m.mu.Lock()
	m.processed = append(m.processed, ServiceRebook)
	m.mu.Unlock()
	return &collab.CallResult{
		Success: true,
		Data: map[string]any{
			"flight_number":  str(params, "flight_number"),
			"passenger_name": str(params, "passenger_name"),
			"original_date":  "2025-04-08",
			"new_date":       str(params, "new_date"),
			"change_fee":     200,
		},
	}
}

func (m *Mock) refund(params map[string]any) *collab.CallResult {
	reason := str(params, "refund_reason")
	if reason == "" {
		reason = "自愿退票"
	}
	fee := 100
	if strings.Contains(reason, "自愿") {
		fee = 300
	}

	m.mu.Lock()
	m.processed = append(m.processed, ServiceRefund)
	m.mu.Unlock()
	return &collab.CallResult{
		Success: true,
		Data: map[string]any{
			"flight_number":  str(params, "flight_number"),
			"passenger_name": str(params, "passenger_name"),
			"refund_reason":  reason,
			"ticket_price":   1000,
			"refund_fee":     fee,
			"actual_refund":  1000 - fee,
		},
	}
}

func (m *Mock) baggage(params map[string]any) *collab.CallResult {
	weight := floatVal(params, "baggage_weight")
	const freeAllowance = 23.0
	excess := weight - freeAllowance
	if excess < 0 {
		excess = 0
	}

	m.mu.Lock()
	m.processed = append(m.processed, ServiceBaggage)
	m.mu.Unlock()
	return &collab.CallResult{
		Success: true,
		Data: map[string]any{
			"flight_number":  str(params, "flight_number"),
			"passenger_name": str(params, "passenger_name"),
			"baggage_weight": weight,
			"free_allowance": freeAllowance,
			"excess_weight":  excess,
			"excess_fee":     excess * 50,
			"baggage_tag":    "BT" + str(params, "flight_number") + "123456",
		},
	}
}

func (m *Mock) lostFound(params map[string]any) *collab.CallResult {
	m.mu.Lock()
	m.processed = append(m.processed, ServiceLostFound)
	m.mu.Unlock()
	return &collab.CallResult{
		Success: true,
		Data: map[string]any{
			"item_description": str(params, "item_description"),
			"loss_location":    str(params, "loss_location"),
			"loss_time":        str(params, "loss_time"),
			"case_id":          fmt.Sprintf("LF%06d", m.ProcessedCount()),
			"notice":           "拾获物品保存30天，请携带有效证件到航站楼一层服务中心认领。",
		},
	}
}

func missingFields(serviceType string, params map[string]any) []string {
	var missing []string
	for _, f := range RequiredParams(serviceType) {
		if str(params, f) == "" && floatVal(params, f) == 0 {
			missing = append(missing, f)
		}
	}
	return missing
}

func assignSeat(seats []string, preference string) string {
	if len(seats) == 0 {
		return ""
	}
	switch {
	case strings.Contains(preference, "窗"):
		for _, s := range seats {
			if strings.HasSuffix(s, "A") || strings.HasSuffix(s, "F") {
				return s
			}
		}
	case strings.Contains(preference, "过道"):
		for _, s := range seats {
			if strings.HasSuffix(s, "C") || strings.HasSuffix(s, "D") {
				return s
			}
		}
	}
	return seats[0]
}

func str(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func floatVal(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	default:
		return 0
	}
}

var _ collab.BusinessAPI = (*Mock)(nil)
