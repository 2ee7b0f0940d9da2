package rules_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/rules"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2026, 3, 10+offset, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func fixtureDataset() *model.Dataset {
	return &model.Dataset{
		Operations: []model.Operation{
			{ID: "op1", Title: "Tour Serra Gaúcha", Status: model.OperationConfirmed, StartDate: testNow.Add(24 * time.Hour),
				RequiresGuide: true, RequiresDriver: true, Revenue: 10000, EstimatedCost: 9000},
			{ID: "op2", Title: "Réveillon Salvador", Status: model.OperationPlanned, StartDate: testNow.Add(30 * 24 * time.Hour),
				Revenue: 20000, EstimatedCost: 10000, ActualCost: 12000},
			{ID: "op3", Title: "Cancelada", Status: model.OperationCancelled, StartDate: testNow.Add(-48 * time.Hour)},
		},
		Expenses: []model.Expense{
			{ID: "e1", OperationID: "op2", Description: "Hotel", Amount: 1500, DueDate: day(-3)},
			{ID: "e2", OperationID: "op2", Description: "Ônibus", Amount: 800, DueDate: day(2)},
			{ID: "e3", OperationID: "op2", Description: "Seguro", Amount: 100, DueDate: day(-5), Paid: true},
			{ID: "e4", OperationID: "op3", Description: "Multa", Amount: 50, DueDate: day(-5)},
		},
		ClientPayments: []model.ClientPayment{
			{ID: "cp1", OperationID: "op1", ClientName: "Maria", Amount: 2500, DueDate: day(-1)},
		},
		Participants: []model.Participant{
			{ID: "p1", OperationID: "op1", Name: "Ana", Confirmed: true, DocumentExpiresAt: ptr(testNow.AddDate(1, 0, 0))},
			{ID: "p2", OperationID: "op1", Name: "Bruno", DocumentExpiresAt: ptr(testNow.Add(12 * time.Hour))},
		},
		SupplierBookings: []model.SupplierBooking{
			{ID: "b1", OperationID: "op1", SupplierName: "Hotel Gramado"},
			{ID: "b2", OperationID: "op2", SupplierName: "Pousada"},
		},
		StaffAssignments: []model.StaffAssignment{
			{OperationID: "op1", Role: model.RoleGuide, Name: "Carla"},
		},
	}
}

func newTestEngine() *rules.Engine {
	return rules.NewEngine(rules.WithClock(func() time.Time { return testNow }))
}

func ids(alerts []model.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestEngine_Evaluate_Fixture(t *testing.T) {
	alerts := newTestEngine().Evaluate("t1", fixtureDataset())

	assert.Equal(t, []string{
		"expense_overdue:e1",
		"client_payment_overdue:cp1",
		"confirmations_pending:op1",
		"document_expired:p2",
		"supplier_unconfirmed:b1",
		"staff_missing:op1:driver",
		"low_margin:op1",
		"expense_due_soon:e2",
		"cost_overrun:op2",
	}, ids(alerts))
}

func TestEngine_Evaluate_AlertFields(t *testing.T) {
	alerts := newTestEngine().Evaluate("t1", fixtureDataset())
	require.NotEmpty(t, alerts)

	first := alerts[0]
	assert.Equal(t, model.SeverityCritical, first.Severity)
	assert.Equal(t, model.CategoryFinanceiro, first.Category)
	assert.Equal(t, "op2", first.OperationID)
	assert.Equal(t, "Réveillon Salvador", first.OperationTitle)
	assert.Equal(t, "/operacoes/op2/financeiro", first.ActionLink)
	assert.Equal(t, testNow, first.DetectedAt)
	assert.Equal(t, 3, first.Metadata["days_overdue"])
	require.NotNil(t, first.DueAt)
	assert.Equal(t, day(-3), *first.DueAt)
}

func TestEngine_Evaluate_SeverityOrdering(t *testing.T) {
	alerts := newTestEngine().Evaluate("t1", fixtureDataset())
	for i := 1; i < len(alerts); i++ {
		assert.LessOrEqual(t, alerts[i-1].Severity.Rank(), alerts[i].Severity.Rank(),
			"%s must not precede %s", alerts[i-1].ID, alerts[i].ID)
	}
}

func TestEngine_Evaluate_Deterministic(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, e.Evaluate("t1", fixtureDataset()), e.Evaluate("t1", fixtureDataset()))
}

func TestEngine_Evaluate_Empty(t *testing.T) {
	e := newTestEngine()
	assert.Empty(t, e.Evaluate("t1", nil))
	assert.Empty(t, e.Evaluate("t1", &model.Dataset{}))
}

func TestEngine_Evaluate_CompletedOperationSkipsOperationalRules(t *testing.T) {
	ds := fixtureDataset()
	ds.Operations[0].Status = model.OperationCompleted

	got := ids(newTestEngine().Evaluate("t1", ds))
	assert.NotContains(t, got, "confirmations_pending:op1")
	assert.NotContains(t, got, "supplier_unconfirmed:b1")
	assert.NotContains(t, got, "staff_missing:op1:driver")
	assert.NotContains(t, got, "document_expired:p2")
	assert.Contains(t, got, "client_payment_overdue:cp1")
}

func TestEngine_CustomThresholds(t *testing.T) {
	th := rules.DefaultThresholds()
	th.MinMarginPct = 5
	th.DueSoonWindow = 24 * time.Hour
	e := rules.NewEngine(rules.WithClock(func() time.Time { return testNow }), rules.WithThresholds(th))

	got := ids(e.Evaluate("t1", fixtureDataset()))
	assert.NotContains(t, got, "low_margin:op1")
	assert.NotContains(t, got, "expense_due_soon:e2")
	assert.Equal(t, th, e.Thresholds())
}

func TestSort_InfoWithoutDueKeepsDetectionOrder(t *testing.T) {
	due := testNow
	alerts := []model.Alert{
		{ID: "i1", Severity: model.SeverityInfo},
		{ID: "w1", Severity: model.SeverityWarning},
		{ID: "i2", Severity: model.SeverityInfo},
		{ID: "c1", Severity: model.SeverityCritical},
		{ID: "w2", Severity: model.SeverityWarning, DueAt: &due},
	}
	rules.Sort(alerts)
	assert.Equal(t, []string{"c1", "w2", "w1", "i1", "i2"}, ids(alerts))
}

func TestInformational(t *testing.T) {
	op := model.Operation{ID: "op9", Title: "City tour"}
	a, err := rules.Informational(rules.KindPaymentReceived, op, "Pagamento de R$ 300,00 recebido", testNow)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityInfo, a.Severity)
	assert.Equal(t, model.CategoryFinanceiro, a.Category)
	assert.Equal(t, "op9", a.OperationID)
	assert.Contains(t, a.ID, "payment_received:op9:")

	_, err = rules.Informational(rules.KindLowMargin, op, "x", testNow)
	assert.True(t, model.IsValidation(err))

	assert.ElementsMatch(t, []rules.Kind{rules.KindStatusChanged, rules.KindParticipantAdded, rules.KindPaymentReceived},
		rules.InformationalKinds())
}

type stubSource struct {
	ds  *model.Dataset
	err error
}

func (s stubSource) LoadDataset(_ context.Context, _ string) (*model.Dataset, error) {
	return s.ds, s.err
}

func TestEvaluator(t *testing.T) {
	ev := rules.NewEvaluator(stubSource{ds: fixtureDataset()}, newTestEngine())
	alerts, err := ev.Evaluate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, alerts, 9)

	boom := errors.New("connection refused")
	ev = rules.NewEvaluator(stubSource{err: boom}, newTestEngine())
	_, err = ev.Evaluate(context.Background(), "t2")
	require.Error(t, err)

	var re *rules.RuleEvaluationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "t2", re.TenantID)
	assert.ErrorIs(t, err, boom)
}

func TestLoadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_margin_pct: 20\nimminent_window: 24h\n"), 0o644))

	th, err := rules.LoadThresholds(path)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, th.MinMarginPct, 0.001)
	assert.Equal(t, 24*time.Hour, th.ImminentWindow)
	assert.Equal(t, rules.DefaultThresholds().DueSoonWindow, th.DueSoonWindow)
}

func TestLoadThresholds_Invalid(t *testing.T) {
	_, err := rules.LoadThresholdsFromBytes([]byte("min_margin_pct: 150"))
	assert.Error(t, err)

	_, err = rules.LoadThresholdsFromBytes([]byte("due_soon_window: [oops"))
	assert.Error(t, err)

	_, err = rules.LoadThresholds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
