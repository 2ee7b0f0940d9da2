package rules

import (
	"fmt"
	"time"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Kind identifies a rule variant.
type Kind string

const (
	KindExpenseOverdue       Kind = "expense_overdue"
	KindExpenseDueSoon       Kind = "expense_due_soon"
	KindClientPaymentOverdue Kind = "client_payment_overdue"
	KindConfirmationsPending Kind = "confirmations_pending"
	KindDocumentExpired      Kind = "document_expired"
	KindSupplierUnconfirmed  Kind = "supplier_unconfirmed"
	KindStaffMissing         Kind = "staff_missing"
	KindLowMargin            Kind = "low_margin"
	KindCostOverrun          Kind = "cost_overrun"

	// Push-only variants, raised by callers at mutation time.
	KindStatusChanged    Kind = "status_changed"
	KindParticipantAdded Kind = "participant_added"
	KindPaymentReceived  Kind = "payment_received"
)

// rule pairs a variant with its severity, category and evaluation function.
// Push-only variants have a nil eval.
type rule struct {
	kind     Kind
	severity model.Severity
	category model.Category
	title    string
	eval     func(in *input, r rule) []model.Alert
}

// catalog is evaluated in order; the order is the detection order used to
// break ordering ties.
var catalog = []rule{
	{KindExpenseOverdue, model.SeverityCritical, model.CategoryFinanceiro, "Despesa vencida", evalExpenseOverdue},
	{KindClientPaymentOverdue, model.SeverityCritical, model.CategoryFinanceiro, "Pagamento de cliente em atraso", evalClientPaymentOverdue},
	{KindConfirmationsPending, model.SeverityCritical, model.CategoryOperacional, "Confirmações pendentes", evalConfirmationsPending},
	{KindDocumentExpired, model.SeverityCritical, model.CategoryDocumentacao, "Documento vencido", evalDocumentExpired},
	{KindSupplierUnconfirmed, model.SeverityCritical, model.CategoryFornecedor, "Fornecedor não confirmado", evalSupplierUnconfirmed},
	{KindExpenseDueSoon, model.SeverityWarning, model.CategoryFinanceiro, "Despesa a vencer", evalExpenseDueSoon},
	{KindStaffMissing, model.SeverityWarning, model.CategoryOperacional, "Equipe incompleta", evalStaffMissing},
	{KindLowMargin, model.SeverityWarning, model.CategoryFinanceiro, "Margem de lucro baixa", evalLowMargin},
	{KindCostOverrun, model.SeverityWarning, model.CategoryFinanceiro, "Custo acima do estimado", evalCostOverrun},
	{KindStatusChanged, model.SeverityInfo, model.CategoryOperacional, "Status alterado", nil},
	{KindParticipantAdded, model.SeverityInfo, model.CategoryOperacional, "Participante adicionado", nil},
	{KindPaymentReceived, model.SeverityInfo, model.CategoryFinanceiro, "Pagamento recebido", nil},
}

func lookup(kind Kind) (rule, bool) {
	for _, r := range catalog {
		if r.kind == kind {
			return r, true
		}
	}
	return rule{}, false
}

// input is the per-evaluation view of a tenant's dataset.
type input struct {
	tenantID     string
	ds           *model.Dataset
	ops          map[string]model.Operation
	participants map[string][]model.Participant
	staff        map[string]map[string]bool
	now          time.Time
	today        time.Time
	th           Thresholds
}

func newInput(tenantID string, ds *model.Dataset, now time.Time, th Thresholds) *input {
	in := &input{
		tenantID:     tenantID,
		ds:           ds,
		ops:          ds.OperationIndex(),
		participants: make(map[string][]model.Participant),
		staff:        make(map[string]map[string]bool),
		now:          now,
		today:        startOfDay(now),
		th:           th,
	}
	for _, p := range ds.Participants {
		in.participants[p.OperationID] = append(in.participants[p.OperationID], p)
	}
	for _, s := range ds.StaffAssignments {
		if in.staff[s.OperationID] == nil {
			in.staff[s.OperationID] = make(map[string]bool)
		}
		in.staff[s.OperationID][s.Role] = true
	}
	return in
}

// activeOp returns the operation for id unless it is unknown or cancelled.
// Records without an operation are still evaluated; ok is false only for
// cancelled operations.
func (in *input) activeOp(id string) (op model.Operation, found, ok bool) {
	op, found = in.ops[id]
	if found && !op.Active() {
		return op, found, false
	}
	return op, found, true
}

// upcoming reports whether op has not started and is still live.
func (in *input) upcoming(op model.Operation) bool {
	return op.Active() && op.Status != model.OperationCompleted && !op.StartDate.Before(in.now)
}

func (in *input) newAlert(r rule, id, description string, op *model.Operation, due time.Time, meta map[string]any) model.Alert {
	a := model.Alert{
		ID:          string(r.kind) + ":" + id,
		Severity:    r.severity,
		Category:    r.category,
		Title:       r.title,
		Description: description,
		DetectedAt:  in.now,
		Metadata:    meta,
	}
	if !due.IsZero() {
		d := due
		a.DueAt = &d
	}
	if op != nil {
		a.OperationID = op.ID
		a.OperationTitle = op.Title
		a.ActionLink = "/operacoes/" + op.ID
		a.ActionLabel = "Abrir OS"
	}
	return a
}

func evalExpenseOverdue(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, e := range in.ds.Expenses {
		op, found, ok := in.activeOp(e.OperationID)
		if e.Paid || !ok || !e.DueDate.Before(in.today) {
			continue
		}
		days := int(in.today.Sub(startOfDay(e.DueDate)).Hours() / 24)
		a := in.newAlert(r, e.ID,
			fmt.Sprintf("%s: R$ %.2f vencida há %d dia(s)", e.Description, e.Amount, days),
			opPtr(op, found), e.DueDate,
			map[string]any{"expense_id": e.ID, "amount": e.Amount, "days_overdue": days})
		a = withAction(a, "/financeiro", "Ver despesas")
		out = append(out, a)
	}
	return out
}

func evalExpenseDueSoon(in *input, r rule) []model.Alert {
	var out []model.Alert
	limit := in.today.Add(in.th.DueSoonWindow)
	for _, e := range in.ds.Expenses {
		op, found, ok := in.activeOp(e.OperationID)
		if e.Paid || !ok || e.DueDate.Before(in.today) || e.DueDate.After(limit) {
			continue
		}
		days := int(startOfDay(e.DueDate).Sub(in.today).Hours() / 24)
		a := in.newAlert(r, e.ID,
			fmt.Sprintf("%s: R$ %.2f vence em %d dia(s)", e.Description, e.Amount, days),
			opPtr(op, found), e.DueDate,
			map[string]any{"expense_id": e.ID, "amount": e.Amount, "days_left": days})
		a = withAction(a, "/financeiro", "Ver despesas")
		out = append(out, a)
	}
	return out
}

func evalClientPaymentOverdue(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, p := range in.ds.ClientPayments {
		op, found, ok := in.activeOp(p.OperationID)
		if p.Paid || !ok || !p.DueDate.Before(in.today) {
			continue
		}
		days := int(in.today.Sub(startOfDay(p.DueDate)).Hours() / 24)
		a := in.newAlert(r, p.ID,
			fmt.Sprintf("%s: R$ %.2f em atraso há %d dia(s)", p.ClientName, p.Amount, days),
			opPtr(op, found), p.DueDate,
			map[string]any{"payment_id": p.ID, "client": p.ClientName, "amount": p.Amount, "days_overdue": days})
		a = withAction(a, "/recebimentos", "Ver recebimentos")
		out = append(out, a)
	}
	return out
}

func evalConfirmationsPending(in *input, r rule) []model.Alert {
	var out []model.Alert
	limit := in.now.Add(in.th.ImminentWindow)
	for _, op := range in.ds.Operations {
		if !in.upcoming(op) || op.StartDate.After(limit) {
			continue
		}
		pending := 0
		for _, p := range in.participants[op.ID] {
			if !p.Confirmed {
				pending++
			}
		}
		if pending == 0 {
			continue
		}
		out = append(out, in.newAlert(r, op.ID,
			fmt.Sprintf("%d participante(s) sem confirmação; início em %s", pending, op.StartDate.Format("02/01 15:04")),
			&op, op.StartDate,
			map[string]any{"pending": pending}))
	}
	return out
}

func evalDocumentExpired(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, p := range in.ds.Participants {
		if p.DocumentExpiresAt == nil {
			continue
		}
		op, found := in.ops[p.OperationID]
		if found && (!op.Active() || op.Status == model.OperationCompleted) {
			continue
		}
		ref := in.now
		if found && op.StartDate.After(ref) {
			ref = op.StartDate
		}
		if !p.DocumentExpiresAt.Before(ref) {
			continue
		}
		due := *p.DocumentExpiresAt
		if found {
			due = op.StartDate
		}
		out = append(out, in.newAlert(r, p.ID,
			fmt.Sprintf("Documento de %s vence em %s", p.Name, p.DocumentExpiresAt.Format("02/01/2006")),
			opPtr(op, found), due,
			map[string]any{"participant_id": p.ID, "participant": p.Name}))
	}
	return out
}

func evalSupplierUnconfirmed(in *input, r rule) []model.Alert {
	var out []model.Alert
	limit := in.now.Add(in.th.SupplierWindow)
	for _, b := range in.ds.SupplierBookings {
		op, found := in.ops[b.OperationID]
		if b.Confirmed || !found || !in.upcoming(op) || op.StartDate.After(limit) {
			continue
		}
		a := in.newAlert(r, b.ID,
			fmt.Sprintf("%s ainda não confirmou; início em %s", b.SupplierName, op.StartDate.Format("02/01 15:04")),
			&op, op.StartDate,
			map[string]any{"booking_id": b.ID, "supplier": b.SupplierName})
		a = withAction(a, "/fornecedores", "Ver fornecedores")
		out = append(out, a)
	}
	return out
}

func evalStaffMissing(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, op := range in.ds.Operations {
		if !in.upcoming(op) {
			continue
		}
		roles := []struct {
			required bool
			role     string
			label    string
		}{
			{op.RequiresGuide, model.RoleGuide, "guia"},
			{op.RequiresDriver, model.RoleDriver, "motorista"},
		}
		for _, rr := range roles {
			if !rr.required || in.staff[op.ID][rr.role] {
				continue
			}
			out = append(out, in.newAlert(r, op.ID+":"+rr.role,
				fmt.Sprintf("Nenhum %s escalado", rr.label),
				&op, op.StartDate,
				map[string]any{"role": rr.role}))
		}
	}
	return out
}

func evalLowMargin(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, op := range in.ds.Operations {
		if !op.Active() || op.Revenue <= 0 {
			continue
		}
		cost := op.ActualCost
		if cost <= 0 {
			cost = op.EstimatedCost
		}
		margin := (op.Revenue - cost) / op.Revenue * 100
		if margin >= in.th.MinMarginPct {
			continue
		}
		out = append(out, in.newAlert(r, op.ID,
			fmt.Sprintf("Margem de %.1f%% abaixo do mínimo de %.0f%%", margin, in.th.MinMarginPct),
			&op, op.StartDate,
			map[string]any{"margin_pct": margin, "revenue": op.Revenue, "cost": cost}))
	}
	return out
}

func evalCostOverrun(in *input, r rule) []model.Alert {
	var out []model.Alert
	for _, op := range in.ds.Operations {
		if !op.Active() || op.EstimatedCost <= 0 || op.ActualCost <= op.EstimatedCost {
			continue
		}
		over := op.ActualCost - op.EstimatedCost
		out = append(out, in.newAlert(r, op.ID,
			fmt.Sprintf("Custo real R$ %.2f excede o estimado em R$ %.2f", op.ActualCost, over),
			&op, op.StartDate,
			map[string]any{"estimated": op.EstimatedCost, "actual": op.ActualCost, "overrun": over}))
	}
	return out
}

// withAction points the alert at a sub-page of its operation.
func withAction(a model.Alert, suffix, label string) model.Alert {
	if a.OperationID == "" {
		return a
	}
	a.ActionLink = "/operacoes/" + a.OperationID + suffix
	a.ActionLabel = label
	return a
}

func opPtr(op model.Operation, found bool) *model.Operation {
	if !found {
		return nil
	}
	return &op
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
