package collab

import (
	"context"
	"time"

	"github.com/traveler-leon/aeroflow/types"
)

// CallRecorder 接收每次协作方调用的观测值。指标收集器实现该接口。
type CallRecorder interface {
	RecordCollaboratorCall(collaborator, status string, duration time.Duration)
}

func observeCall(rec CallRecorder, collaborator string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	rec.RecordCollaboratorCall(collaborator, status, time.Since(start))
}

// InstrumentReasoner wraps a reasoner so every call is recorded with
// its outcome and latency. A nil recorder returns the inner value
// unchanged.
func InstrumentReasoner(inner Reasoner, rec CallRecorder) Reasoner {
	if inner == nil || rec == nil {
		return inner
	}
	return &meteredReasoner{inner: inner, rec: rec}
}

// InstrumentSearcher 同 InstrumentReasoner，针对知识检索协作方
func InstrumentSearcher(inner Searcher, rec CallRecorder) Searcher {
	if inner == nil || rec == nil {
		return inner
	}
	return &meteredSearcher{inner: inner, rec: rec}
}

// InstrumentQuerier 同 InstrumentReasoner，针对航班查询协作方
func InstrumentQuerier(inner Querier, rec CallRecorder) Querier {
	if inner == nil || rec == nil {
		return inner
	}
	return &meteredQuerier{inner: inner, rec: rec}
}

// InstrumentBusinessAPI 同 InstrumentReasoner，针对业务办理协作方
func InstrumentBusinessAPI(inner BusinessAPI, rec CallRecorder) BusinessAPI {
	if inner == nil || rec == nil {
		return inner
	}
	return &meteredBusiness{inner: inner, rec: rec}
}

type meteredReasoner struct {
	inner Reasoner
	rec   CallRecorder
}

func (m *meteredReasoner) Reason(ctx context.Context, messages []types.Message, instructions string, shape ResponseShape) (string, error) {
	start := time.Now()
	out, err := m.inner.Reason(ctx, messages, instructions, shape)
	observeCall(m.rec, "reasoner", start, err)
	return out, err
}

type meteredSearcher struct {
	inner Searcher
	rec   CallRecorder
}

func (m *meteredSearcher) Search(ctx context.Context, query string, limit int) ([]ScoredDocument, error) {
	start := time.Now()
	docs, err := m.inner.Search(ctx, query, limit)
	observeCall(m.rec, "searcher", start, err)
	return docs, err
}

type meteredQuerier struct {
	inner Querier
	rec   CallRecorder
}

func (m *meteredQuerier) BuildQuery(ctx context.Context, params map[string]any) (string, error) {
	start := time.Now()
	query, err := m.inner.BuildQuery(ctx, params)
	observeCall(m.rec, "querier", start, err)
	return query, err
}

func (m *meteredQuerier) Run(ctx context.Context, query string) ([]map[string]any, error) {
	start := time.Now()
	rows, err := m.inner.Run(ctx, query)
	observeCall(m.rec, "querier", start, err)
	return rows, err
}

type meteredBusiness struct {
	inner BusinessAPI
	rec   CallRecorder
}

func (m *meteredBusiness) Call(ctx context.Context, serviceType string, params map[string]any) (*CallResult, error) {
	start := time.Now()
	res, err := m.inner.Call(ctx, serviceType, params)
	observeCall(m.rec, "business", start, err)
	return res, err
}
