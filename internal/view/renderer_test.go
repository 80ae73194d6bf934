package view

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"wisefido-queue-view/internal/models"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleView() *models.QueueView {
	snap := models.QueueSnapshot{
		Patients: []models.PatientRow{
			{ID: "1", PatientID: "T-001", Name: "Asha", OxygenLevel: 88, BP: "150/95", Temperature: 101.2, Disease: "Pneumonia", Priority: models.PriorityHigh},
			{ID: "2", PatientID: "T-002", Name: "Ben", OxygenLevel: 97, BP: "120/80", Temperature: 98.6, Disease: "Flu", Priority: models.PriorityMedium},
			{ID: "3", PatientID: "T-003", Name: "Chen", OxygenLevel: 99, BP: "118/76", Temperature: 98.4, Disease: "Checkup", Priority: models.PriorityLow},
		},
		TotalWaiting:   2,
		TotalEmergency: 1,
	}
	return &models.QueueView{
		Snapshot:    snap,
		Counts:      models.CountsFromSnapshot(&snap),
		Version:     4,
		RefreshedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
}

func tbodyOf(t *testing.T, page string) string {
	t.Helper()
	start := strings.Index(page, "<tbody>")
	end := strings.Index(page, "</tbody>")
	require.True(t, start >= 0 && end > start, "page has no tbody")
	return page[start:end]
}

func TestRenderRows_OneRowPerPatientInOrder(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	rows, err := r.RenderRows(sampleView())
	require.NoError(t, err)

	require.Equal(t, 3, strings.Count(rows, "<tr "))
	a := strings.Index(rows, "T-001")
	b := strings.Index(rows, "T-002")
	c := strings.Index(rows, "T-003")
	require.True(t, a < b && b < c, "rows out of snapshot order")
}

func TestRenderRows_PriorityCell(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	rows, err := r.RenderRows(sampleView())
	require.NoError(t, err)

	require.Contains(t, rows, `<td class="priority-HIGH">HIGH</td>`)
	require.Contains(t, rows, `<td class="priority-MEDIUM">MEDIUM</td>`)
	require.Contains(t, rows, `<td class="priority-LOW">LOW</td>`)
}

func TestRenderRows_PriorityCellKeepsUpstreamText(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	snap := models.QueueSnapshot{
		Patients:       []models.PatientRow{{ID: "1", Priority: "high"}},
		TotalEmergency: 1,
	}
	snap.Normalize()
	rows, err := r.RenderRows(&models.QueueView{Snapshot: snap, Counts: models.CountsFromSnapshot(&snap)})
	require.NoError(t, err)

	require.Contains(t, rows, `<td class="priority-high">high</td>`)
}

func TestRenderPage_CarriesFingerprint(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	v := sampleView()
	v.Fingerprint = v.Snapshot.Fingerprint()

	var buf bytes.Buffer
	require.NoError(t, r.RenderPage(&buf, v))
	require.Contains(t, buf.String(), `data-fingerprint="`+FingerprintString(v.Fingerprint)+`"`)
	require.Contains(t, buf.String(), "msg.fingerprint === document.body.dataset.fingerprint")
}

func TestRenderRows_ActionLinks(t *testing.T) {
	r, err := NewRenderer("http://hospital.local:5000/")
	require.NoError(t, err)

	rows, err := r.RenderRows(sampleView())
	require.NoError(t, err)

	require.Contains(t, rows, `href="http://hospital.local:5000/complete/1"`)
	require.Contains(t, rows, `href="http://hospital.local:5000/emergency/3"`)
}

func TestRenderRows_EscapesPatientText(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	v := sampleView()
	v.Snapshot.Patients = v.Snapshot.Patients[:1]
	v.Snapshot.Patients[0].Name = `<script>alert(1)</script>`

	rows, err := r.RenderRows(v)
	require.NoError(t, err)
	require.NotContains(t, rows, "<script>")
	require.Contains(t, rows, "&lt;script&gt;")
}

func TestRenderPage_SingleHighPatientExample(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	snap := models.QueueSnapshot{
		Patients:       []models.PatientRow{{ID: "1", Priority: models.PriorityHigh}},
		TotalWaiting:   0,
		TotalEmergency: 1,
	}
	v := &models.QueueView{Snapshot: snap, Counts: models.CountsFromSnapshot(&snap), Version: 1}

	var buf bytes.Buffer
	require.NoError(t, r.RenderPage(&buf, v))
	page := buf.String()

	require.Contains(t, page, `id="queueTable"`)
	require.Contains(t, page, `<span id="waitingCount">0</span>`)
	require.Contains(t, page, `<span id="emergencyCount">1</span>`)

	body := tbodyOf(t, page)
	require.Equal(t, 1, strings.Count(body, "<tr "))
	require.Contains(t, body, `class="priority-HIGH"`)
}

func TestRenderPage_NoViewYet(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.RenderPage(&buf, nil))
	page := buf.String()

	require.Equal(t, 0, strings.Count(tbodyOf(t, page), "<tr "))
	require.Contains(t, page, `<span id="waitingCount">0</span>`)
}

func TestExportExcel_RowsAndSummary(t *testing.T) {
	data, err := ExportExcel(sampleView())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(QueueExportSheet)
	require.NoError(t, err)

	require.Equal(t, QueueExportHeader, rows[0])
	require.Equal(t, "T-001", rows[1][0])
	require.Equal(t, "HIGH", rows[1][6])
	require.Equal(t, "T-003", rows[3][0])
	// 第 5 行空，第 6、7 行为计数
	require.Equal(t, []string{"Waiting", "2"}, rows[5])
	require.Equal(t, []string{"Emergency", "1"}, rows[6])
}

func TestExportExcel_NilView(t *testing.T) {
	data, err := ExportExcel(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(QueueExportSheet)
	require.NoError(t, err)
	require.Equal(t, QueueExportHeader, rows[0])
}
