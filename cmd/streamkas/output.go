package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStream(st stream.Stream) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	fmt.Print(streamDetail(st, time.Now()))
	return nil
}

func kasString(sompi int64) string { return stream.SompiToKas(sompi).String() }

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func streamsTable(streams []stream.Stream) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Status", "Recipient", "Sent (KAS)", "Total (KAS)", "Progress", "Txs", "Every"})
	for _, s := range streams {
		tw.AppendRow(table.Row{
			s.ID, s.Status, s.Recipient,
			kasString(s.AmountSent), kasString(s.TotalAmount),
			fmt.Sprintf("%.1f%%", s.Progress()*100),
			len(s.TxHistory), fmt.Sprintf("%ds", s.IntervalSeconds),
		})
	}
	if len(streams) == 0 {
		tw.AppendRow(table.Row{"(none)"})
	}
	return tw.Render() + "\n"
}

func streamDetail(s stream.Stream, now time.Time) string {
	info := table.NewWriter()
	info.AppendRows([]table.Row{
		{"ID", s.ID},
		{"Status", s.Status},
		{"Sender", s.Sender},
		{"Recipient", s.Recipient},
		{"Sent", fmt.Sprintf("%s / %s KAS (%.1f%%)", kasString(s.AmountSent), kasString(s.TotalAmount), s.Progress()*100)},
		{"Rate", fmt.Sprintf("%s KAS every %ds (%d ticks)", kasString(s.FlowRate), s.IntervalSeconds, s.TickCount)},
		{"Active", fmt.Sprintf("%.0fs of %ds", s.ElapsedAt(now), s.DurationSeconds)},
		{"Created", s.CreatedAt.Local().Format(time.DateTime)},
		{"Started", fmtTime(s.StartedAt)},
		{"Paused", fmtTime(s.PausedAt)},
		{"Completed", fmtTime(s.CompletedAt)},
	})
	if s.ErrorMessage != "" {
		info.AppendRow(table.Row{"Error", s.ErrorMessage})
	}
	out := info.Render() + "\n"
	if len(s.TxHistory) == 0 {
		return out
	}

	txs := table.NewWriter()
	txs.AppendHeader(table.Row{"#", "Tx", "Amount (KAS)", "Time", "Status"})
	for i, tx := range s.TxHistory {
		txs.AppendRow(table.Row{i + 1, tx.TxID, kasString(tx.Amount), tx.Timestamp.Local().Format(time.DateTime), tx.Status})
	}
	return out + txs.Render() + "\n"
}

func statsTable(st stream.Stats) string {
	tw := table.NewWriter()
	tw.AppendRows([]table.Row{
		{"Streams", st.TotalStreams},
		{"Active", st.ActiveStreams},
		{"Sent (KAS)", kasString(st.TotalSent)},
		{"Transactions", st.TotalTransactions},
		{"Flow (KAS/s)", fmt.Sprintf("%.8f", st.CurrentFlowRate/1e8)},
	})
	return tw.Render() + "\n"
}

func auditTable(entries []storage.AuditEntry) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Time", "Actor", "Action", "Stream", "Amount (KAS)", "OK", "Error"})
	for _, e := range entries {
		amount := ""
		if e.Amount != 0 {
			amount = kasString(e.Amount)
		}
		tw.AppendRow(table.Row{e.At.Local().Format(time.DateTime), e.Actor, e.Action, e.StreamID, amount, e.OK, e.Error})
	}
	return tw.Render() + "\n"
}
