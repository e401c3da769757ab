package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"antik/audio"
	"antik/clipboard"
	"antik/hotkey"
	"antik/log"
	"antik/processor"
	"antik/status"
	"antik/transcriber"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tuiFrame = 33 * time.Millisecond
	// visualizerBars bins are mirrored around the centre.
	visualizerBars = 20
	visualizerRows = 6
	longPress      = 350 * time.Millisecond
	noticeFor      = 2 * time.Second
)

type tickMsg time.Time

type noticeMsg struct{ text string }

type tuiModel struct {
	ctx    context.Context
	app    *app
	server string
	device string

	snap        status.Snapshot
	input       textinput.Model
	spin        spinner.Model
	width       int
	height      int
	notice      string
	noticeUntil time.Time
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKey     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cardStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	cardTitle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	cardWhen    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func stateStyle(s status.State) (string, lipgloss.Style) {
	switch s {
	case status.Idle:
		return "○", lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	case status.Listening:
		return "●", lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	case status.Completed:
		return "✓", lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	case status.Error:
		return "⚠", lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	}
	return "◆", lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
}

func newTUIModel(ctx context.Context, a *app, server, device string) tuiModel {
	in := textinput.New()
	in.Placeholder = "Type a command, or ctrl+r to speak"
	in.Prompt = "› "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	if device == "" {
		device = "system default"
	}
	return tuiModel{
		ctx:    ctx,
		app:    a,
		server: server,
		device: device,
		snap:   a.model.Snapshot(),
		input:  in,
		spin:   sp,
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(tuiFrame, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), m.spin.Tick, textinput.Blink)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 10)

	case tickMsg:
		m.sync()
		return m, tuiTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case noticeMsg:
		m.notice = msg.text
		m.noticeUntil = time.Now().Add(noticeFor)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// sync pulls the shared model. The input mirrors the transcript so uploads
// and clears show up in the edit field.
func (m *tuiModel) sync() {
	m.snap = m.app.model.Snapshot()
	if m.snap.Transcript != m.input.Value() {
		m.input.SetValue(m.snap.Transcript)
		m.input.CursorEnd()
	}
	if m.notice != "" && time.Now().After(m.noticeUntil) {
		m.notice = ""
	}
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.app
	listening := a.pipeline.Listening()

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "ctrl+r":
		ctx := m.ctx
		return m, func() tea.Msg {
			if err := a.pipeline.Toggle(ctx); err != nil {
				log.Warnf("toggle listening: %v", err)
			}
			return nil
		}

	case "esc":
		if listening {
			return m, func() tea.Msg {
				a.pipeline.Stop(true)
				return nil
			}
		}
		if !a.model.Processing() {
			a.model.ClearTranscript()
			a.model.Reset()
		}
		m.sync()
		return m, nil

	case "enter":
		if listening {
			return m, func() tea.Msg {
				a.pipeline.Stop(false)
				return nil
			}
		}
		a.machine.Submit(m.ctx, m.input.Value())
		m.sync()
		return m, nil

	case "ctrl+y":
		return m, func() tea.Msg {
			text, err := clipboard.CopyLast(a.machine.LastReply(), a.model.Transcript())
			switch {
			case errors.Is(err, clipboard.ErrNothing):
				return noticeMsg{"nothing to copy"}
			case err != nil:
				log.Warnf("copy: %v", err)
				return noticeMsg{"copy failed"}
			}
			return noticeMsg{fmt.Sprintf("copied %d chars", len(text))}
		}
	}

	if listening {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	a.model.SetTranscript(m.input.Value())
	return m, cmd
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-4, 10)
	var b strings.Builder

	b.WriteString(titleStyle.Render("antik") + dimStyle.Render("  "+m.server+"  ·  mic: "+m.device) + "\n\n")

	icon, style := stateStyle(m.snap.Status.State)
	line := style.Render(icon + " " + m.snap.Status.Message)
	if m.snap.Processing {
		line = m.spin.View() + " " + style.Render(m.snap.Status.Message)
	}
	b.WriteString(line + "\n\n")

	if m.snap.Listening {
		for _, row := range renderVisualizer(m.snap.Visualizer, visualizerRows) {
			b.WriteString("  " + barStyle.Render(row) + "\n")
		}
		b.WriteString("\n")
		for _, l := range wrapText(m.snap.Transcript, wrapWidth) {
			b.WriteString("  " + textStyle.Render(l) + "\n")
		}
	} else {
		b.WriteString(m.input.View() + "\n")
	}

	if card := renderSchedule(m.snap.Status.Events); card != "" {
		b.WriteString("\n" + card + "\n")
	}

	b.WriteString("\n" + renderHelp(m.snap.Listening) + "\n")
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}
	return b.String()
}

func renderHelp(listening bool) string {
	keys := [][2]string{{"ctrl+r", "listen"}, {"enter", "send"}, {"esc", "clear"}, {"ctrl+y", "copy"}, {"ctrl+c", "quit"}}
	if listening {
		keys = [][2]string{{"ctrl+r/enter", "stop & send"}, {"esc", "discard"}}
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, helpKey.Render(k[0])+helpStyle.Render(" "+k[1]))
	}
	parts = append(parts, helpKey.Render(hotkey.Combo)+helpStyle.Render(" anywhere"))
	return strings.Join(parts, helpStyle.Render("  ·  "))
}

// renderSchedule draws the "Upcoming Schedule" card, or nothing without
// entries.
func renderSchedule(events []status.ScheduleEntry) string {
	if len(events) == 0 {
		return ""
	}
	lines := []string{cardTitle.Render("Upcoming Schedule")}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%s  %s", cardWhen.Render(fmt.Sprintf("%-9s", e.When())), e.Title()))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

var barBlocks = []rune(" ▁▂▃▄▅▆▇█")

// visualizerColumns mirrors the first visualizerBars bins: lowest
// frequencies in the centre.
func visualizerColumns(bins [status.VisualizerBins]uint8) []uint8 {
	cols := make([]uint8, 0, 2*visualizerBars)
	for i := visualizerBars - 1; i >= 0; i-- {
		cols = append(cols, bins[i])
	}
	return append(cols, bins[:visualizerBars]...)
}

// renderVisualizer draws each column with height value/255 of rows, top row
// first, in eighth-block resolution.
func renderVisualizer(bins [status.VisualizerBins]uint8, rows int) []string {
	cols := visualizerColumns(bins)
	out := make([]string, rows)
	for r := range rows {
		floor := (rows - 1 - r) * 8
		var line strings.Builder
		for _, v := range cols {
			level := int(v) * rows * 8 / 255
			cell := min(max(level-floor, 0), 8)
			line.WriteRune(barBlocks[cell])
		}
		out[r] = line.String()
	}
	return out
}

// wrapText breaks text into lines of at most width runes, preferring the
// last space.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}

func (st *appState) runTUI(ctx context.Context) error {
	speaker, err := st.newSpeaker()
	if err != nil {
		return err
	}
	url := st.cfg.Server.URL
	log.SessionStart(url, st.cfg.Capture.Device, speaker.Name())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tr := transcriber.New(url)
	go func() {
		if d := tr.Warm(ctx); d > 0 {
			log.Infof("transcription connection warmed in %s", d)
		}
	}()
	a := st.build(ctx, audio.NewContext, tr, processor.New(url), speaker)
	defer a.close()

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Warnf("global shortcut unavailable: %v", err)
	} else {
		defer hk.Unregister()
		tr := hotkey.NewTrigger(hk, longPress)
		defer tr.Close()
		go driveTrigger(ctx, tr, a)
	}

	p := tea.NewProgram(newTUIModel(ctx, a, url, st.cfg.Capture.Device), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}

// driveTrigger maps shortcut actions onto the capture pipeline.
func driveTrigger(ctx context.Context, tr *hotkey.Trigger, a *app) {
	for {
		select {
		case <-ctx.Done():
			return
		case act := <-tr.Actions():
			log.Info("hotkey_" + act.String())
			switch act {
			case hotkey.StartListening:
				if err := a.pipeline.Start(ctx); err != nil {
					log.Warnf("start listening: %v", err)
				}
			case hotkey.StopListening:
				a.pipeline.Stop(false)
			}
		}
	}
}
