package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"helpbot/internal/app"
	"helpbot/internal/dataset"
	"helpbot/internal/dialogue"
	"helpbot/internal/domain"
)

const chatHelp = `Commands:
  /pick N              choose option N from the last list (a bare number works too)
  /next, /prev         page through the results
  /page N              jump to page N
  /size N              rows per page
  /sort KEY [asc|desc] sort by id, date, company, city or type ("/sort" clears)
  /filter TEXT         filter rows by ad id, company, city or type ("/filter" clears)
  /dates FROM TO       keep rows dated FROM..TO (YYYY-MM-DD, "-" leaves a side open)
  /where FIELD TEXT    filter company, city or type
  /rows                show the current page
  /state               show the collected search criteria
  /backend             show the backend base address
  /reset               start over
  /quit                leave`

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive search",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				r := newREPL(svc, svc.NewConversation(uuid.NewString(), ""), os.Stdout)
				defer r.conv.Close()
				return r.run(ctx, os.Stdin)
			})
		},
	}
}

type repl struct {
	svc  *app.Services
	conv *app.Conversation
	out  io.Writer
	unit domain.DateUnit
}

func newREPL(svc *app.Services, conv *app.Conversation, out io.Writer) *repl {
	return &repl{svc: svc, conv: conv, out: out, unit: svc.Unit}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, dialogue.WelcomeHint)
	fmt.Fprintln(r.out, `("/help" lists commands)`)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle processes one input line and reports whether the user quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if n, err := strconv.Atoi(line); err == nil && r.conv.State().AwaitingPick != domain.PickNone {
			r.render(r.conv.Pick(ctx, n-1))
			return false
		}
		r.render(r.conv.Text(ctx, line))
		return false
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	v := r.conv.View()
	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(r.out, chatHelp)
	case "pick":
		n, err := strconv.Atoi(rest)
		if err != nil {
			fmt.Fprintln(r.out, "usage: /pick N")
			return false
		}
		r.render(r.conv.Pick(ctx, n-1))
	case "reset":
		r.render(r.conv.Reset(ctx))
	case "next":
		r.renderPage(v.Next())
	case "prev":
		r.renderPage(v.Prev())
	case "page":
		n, err := strconv.Atoi(rest)
		if err != nil {
			fmt.Fprintln(r.out, "usage: /page N")
			return false
		}
		r.renderPage(v.SetPage(n))
	case "size":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			fmt.Fprintln(r.out, "usage: /size N")
			return false
		}
		r.renderPage(v.SetPageSize(n))
	case "sort":
		fields := strings.Fields(rest)
		var key, dir string
		if len(fields) > 0 {
			key = fields[0]
		}
		if len(fields) > 1 {
			dir = fields[1]
		}
		k, err := dataset.ParseSortKey(key)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		d, err := dataset.ParseDirection(dir)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		r.renderPage(v.SetSort(k, d))
	case "filter":
		r.renderPage(r.conv.SetFilterText(rest))
	case "dates":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			fmt.Fprintln(r.out, "usage: /dates FROM TO")
			return false
		}
		page, err := v.SetDateBounds(openBound(fields[0]), openBound(fields[1]))
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		r.renderPage(page)
	case "where":
		field, text, _ := strings.Cut(rest, " ")
		page, err := v.SetFieldFilter(field, strings.TrimSpace(text))
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		r.renderPage(page)
	case "rows":
		r.renderPage(v.Current())
	case "state":
		r.renderState(r.conv.State())
	case "backend":
		h := r.svc.Endpoint.Health()
		fmt.Fprintf(r.out, "backend %s (ok=%t rows=%d fresh=%t)\n", r.svc.Endpoint.CurrentBase(), h.OK, h.Rows, r.svc.Endpoint.Fresh())
	default:
		fmt.Fprintf(r.out, "unknown command /%s; /help lists commands\n", name)
	}
	return false
}

func openBound(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func (r *repl) render(replies []dialogue.Reply) {
	for _, rep := range replies {
		switch rep.Kind {
		case dialogue.KindOptions:
			fmt.Fprintln(r.out, rep.Text)
			tw := table.NewWriter()
			tw.SetOutputMirror(r.out)
			tw.AppendHeader(table.Row{"#", "Seçenek", "Kod"})
			for i, o := range rep.Options {
				tw.AppendRow(table.Row{i + 1, o.Label, o.Code})
			}
			tw.Render()
		case dialogue.KindResults:
			fmt.Fprintln(r.out, rep.Text)
			r.renderPage(r.conv.View().Current())
		case dialogue.KindSummary:
			fmt.Fprintln(r.out, "Özet:")
			fmt.Fprintln(r.out, rep.Text)
			if rep.Summary != nil && rep.Summary.Advisory != "" && rep.Summary.Text != "" {
				fmt.Fprintln(r.out, rep.Summary.Advisory)
			}
		case dialogue.KindError:
			fmt.Fprintln(r.out, "! "+rep.Text)
		default:
			fmt.Fprintln(r.out, rep.Text)
		}
	}
}

func (r *repl) renderPage(p dataset.Page) {
	if p.Total == 0 {
		fmt.Fprintln(r.out, "(sonuç yok)")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.AppendHeader(table.Row{"İlan", "Tarih", "Şehir", "Tür", "Şirket"})
	for _, row := range p.Rows {
		tw.AppendRow(table.Row{row.AdID, domain.FormatDate(row.DateEncoded, r.unit), row.City, row.Type, row.Company})
	}
	tw.Render()
	fmt.Fprintf(r.out, "sayfa %d/%d • %d/%d satır\n", p.Page, p.PageCount, p.Filtered, p.Total)
}

func (r *repl) renderState(st domain.SessionState) {
	label := func(o *domain.Option) string {
		if o == nil {
			return "-"
		}
		return fmt.Sprintf("%s (%d)", o.Label, o.Code)
	}
	dates := "-"
	if st.DateFrom != "" {
		dates = st.DateFrom + " – " + st.DateTo
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.AppendRows([]table.Row{
		{"Adım", st.Step},
		{"Tarih", dates},
		{"Şirket", label(st.Company)},
		{"Tür", label(st.Category)},
		{"Müdürlük", label(st.City)},
	})
	tw.Render()
}
