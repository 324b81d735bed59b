package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/caio-sobreiro/modalitysim/worklist"
)

// Choice is the operator's answer to one menu.
type Choice struct {
	Index   int // 0-based, valid when neither Quit nor Refresh is set
	Quit    bool
	Refresh bool
}

// Picker presents the schedule and reads the operator's choice.
type Picker interface {
	Pick(ctx context.Context, items []worklist.Item) (Choice, error)
	// Pause holds the result on screen until the operator continues.
	Pause(ctx context.Context) error
}

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("63"))

// Table renders the schedule with 1-based numbers.
func Table(items []worklist.Item) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("No", "Accession #", "Modality", "Patient Name")
	for i, item := range items {
		modality := item.Modality()
		if modality == "" {
			modality = "-"
		}
		t.Row(strconv.Itoa(i+1), item.AccessionNumber, modality, item.DisplayName())
	}
	return t.String()
}

// LinePicker is a plain numbered menu on a line-oriented terminal.
type LinePicker struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

func (p *LinePicker) readLine() (string, error) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Pick prints the table and reads a number, q to quit, or an empty line
// to refresh. End of input quits.
func (p *LinePicker) Pick(ctx context.Context, items []worklist.Item) (Choice, error) {
	fmt.Fprintln(p.Out, titleStyle.Render("Modality Worklist"))
	if len(items) == 0 {
		fmt.Fprintln(p.Out, "No scheduled exams.")
	} else {
		fmt.Fprintln(p.Out, Table(items))
	}

	for {
		if err := ctx.Err(); err != nil {
			return Choice{}, err
		}
		if len(items) == 0 {
			fmt.Fprint(p.Out, "Enter to refresh, q to quit: ")
		} else {
			fmt.Fprintf(p.Out, "Select exam [1-%d], Enter to refresh, q to quit: ", len(items))
		}

		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			return Choice{Quit: true}, nil
		}
		if err != nil {
			return Choice{}, err
		}

		switch strings.ToLower(line) {
		case "":
			return Choice{Refresh: true}, nil
		case "q", "quit", "exit":
			return Choice{Quit: true}, nil
		}

		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(items) {
			fmt.Fprintf(p.Out, "Invalid choice %q.\n", line)
			continue
		}
		return Choice{Index: n - 1}, nil
	}
}

// Pause waits for Enter.
func (p *LinePicker) Pause(ctx context.Context) error {
	fmt.Fprint(p.Out, "Press Enter to continue...")
	_, err := p.readLine()
	return err
}

const (
	refreshOption = -1
	quitOption    = -2
)

// FormPicker shows the schedule as an interactive select.
type FormPicker struct {
	Accessible bool
}

func (p FormPicker) Pick(ctx context.Context, items []worklist.Item) (Choice, error) {
	options := make([]huh.Option[int], 0, len(items)+2)
	for i, item := range items {
		label := fmt.Sprintf("%-16s %-4s %s", item.AccessionNumber, item.Modality(), item.DisplayName())
		options = append(options, huh.NewOption(label, i))
	}
	options = append(options,
		huh.NewOption("Refresh worklist", refreshOption),
		huh.NewOption("Quit", quitOption),
	)

	selected := refreshOption
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Scheduled exams").
				Description(fmt.Sprintf("%d on the worklist", len(items))).
				Options(options...).
				Value(&selected),
		),
	).WithAccessible(p.Accessible)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return Choice{Quit: true}, nil
		}
		return Choice{}, err
	}

	switch selected {
	case refreshOption:
		return Choice{Refresh: true}, nil
	case quitOption:
		return Choice{Quit: true}, nil
	default:
		return Choice{Index: selected}, nil
	}
}

// Pause is a no-op: the next form redraw waits for the operator.
func (p FormPicker) Pause(ctx context.Context) error {
	return nil
}
