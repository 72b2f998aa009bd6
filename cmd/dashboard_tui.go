// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlItem is a control state offered by the picker
type controlItem struct {
	state sbs.ControlState
}

func (c controlItem) Title() string       { return c.state.String() }
func (c controlItem) Description() string { return fmt.Sprintf("control code 0x%02X", uint8(c.state)) }
func (c controlItem) FilterValue() string { return c.state.String() }

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type dashboardTickMsg time.Time

type timedFrame struct {
	frame sbs.Frame
	at    time.Time
}

// frameBatchMsg carries the frames received since the previous batch
type frameBatchMsg struct {
	frames []timedFrame
}

type busClosedMsg struct {
	err error
}

type controlSentMsg struct {
	state sbs.ControlState
	err   error
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// dashboardModel is the Bubble Tea model of the dashboard
type dashboardModel struct {
	connInfo   string
	battery    string
	staleAfter time.Duration

	// send returns a command transmitting a control frame
	send func(sbs.ControlState) tea.Cmd

	state      *sbs.State
	stats      *sbs.Statistics
	lastChange [sbs.NumInfoMessages]time.Time
	prevErrors sbs.ErrorFlags
	prevState  sbs.StateCode

	events    []eventEntry
	maxEvents int

	controls     list.Model
	showControls bool

	now      time.Time
	width    int
	height   int
	closed   bool
	quitting bool
}

func initialDashboardModel(connInfo, battery string, staleAfter time.Duration, send func(sbs.ControlState) tea.Cmd) dashboardModel {
	states := sbs.ControlStates()
	items := make([]list.Item, len(states))
	for i, cs := range states {
		items[i] = controlItem{state: cs}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	controls := list.New(items, delegate, 28, 14)
	controls.Title = "Request state"
	controls.SetShowStatusBar(false)
	controls.SetShowHelp(false)
	controls.SetFilteringEnabled(false)

	return dashboardModel{
		connInfo:   connInfo,
		battery:    battery,
		staleAfter: staleAfter,
		send:       send,
		state:      sbs.NewState(),
		stats:      sbs.NewStatistics(),
		events:     make([]eventEntry, 0),
		maxEvents:  100,
		controls:   controls,
		now:        time.Now(),
		width:      80,
		height:     24,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return dashboardTickCmd()
}

func dashboardTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashboardTickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.controls.SetSize(28, max(6, m.height/2))

	case dashboardTickMsg:
		m.now = time.Time(msg)
		return m, dashboardTickCmd()

	case frameBatchMsg:
		for _, tf := range msg.frames {
			m.applyFrame(tf.frame, tf.at)
		}
		if n := len(msg.frames); n > 0 && msg.frames[n-1].at.After(m.now) {
			m.now = msg.frames[n-1].at
		}

	case busClosedMsg:
		m.closed = true
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addEvent("Connection closed", true)
		}

	case controlSentMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Request %s failed: %v", msg.state, msg.err), true)
		} else {
			m.addEvent(fmt.Sprintf("Requested %s", msg.state), false)
		}
	}

	return m, nil
}

func (m dashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "c":
		m.showControls = !m.showControls
		return m, nil

	case "esc":
		m.showControls = false
		return m, nil

	case "r":
		m.stats.Reset()
		m.addEvent("Statistics reset", false)
		return m, nil

	case "enter":
		if !m.showControls || m.closed {
			return m, nil
		}
		item, ok := m.controls.SelectedItem().(controlItem)
		if !ok {
			return m, nil
		}
		m.showControls = false
		return m, m.send(item.state)
	}

	if m.showControls {
		var cmd tea.Cmd
		m.controls, cmd = m.controls.Update(msg)
		return m, cmd
	}
	return m, nil
}

// applyFrame decodes one frame and logs error and state transitions
func (m *dashboardModel) applyFrame(f sbs.Frame, at time.Time) {
	msg, err := m.state.Decode(f)
	m.stats.Update(msg, err)
	if err != nil {
		if !errors.Is(err, sbs.ErrUnrecognizedID) {
			m.addEventAt(at, fmt.Sprintf("%s: %v", sbs.FormatMessageType(f.ID), err), true)
		}
		return
	}
	m.lastChange[msg-1] = at

	switch msg {
	case sbs.MessageInfo01:
		errs := m.state.Pack.Errors
		for _, flag := range errs.Active() {
			if !m.prevErrors.Has(flag) {
				m.addEventAt(at, fmt.Sprintf("Error raised: %s (%s)", flag, flag.Description()), true)
			}
		}
		for _, flag := range m.prevErrors.Active() {
			if !errs.Has(flag) {
				m.addEventAt(at, fmt.Sprintf("Error cleared: %s", flag), false)
			}
		}
		m.prevErrors = errs

	case sbs.MessageInfo02:
		st := m.state.Status.State
		if m.state.Count(sbs.MessageInfo02) == 1 || st != m.prevState {
			m.addEventAt(at, fmt.Sprintf("State: %s", st), st == sbs.StateFault || st == sbs.StateCritErr)
		}
		m.prevState = st
	}
}

func (m *dashboardModel) addEvent(message string, isError bool) {
	m.addEventAt(time.Now(), message, isError)
}

func (m *dashboardModel) addEventAt(at time.Time, message string, isError bool) {
	m.events = append(m.events, eventEntry{timestamp: at, message: message, isError: isError})
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// age returns how long ago message m last arrived and whether it ever did
func (m dashboardModel) age(msg sbs.MessageType) (time.Duration, bool) {
	if m.state.Count(msg) == 0 {
		return 0, false
	}
	return m.now.Sub(m.lastChange[msg-1]), true
}

// stale reports whether a received message has not been updated within
// the staleness window
func (m dashboardModel) stale(msg sbs.MessageType) bool {
	age, ok := m.age(msg)
	return ok && m.staleAfter > 0 && age > m.staleAfter
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("SBSMON - " + strings.ToUpper(m.battery)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | 'c' request state, 'r' reset stats, 'q' quit", m.connInfo)))
	s.WriteString("\n\n")

	if m.closed {
		s.WriteString(errorStyle.Render("Connection closed, values are frozen"))
		s.WriteString("\n\n")
	} else if m.stats.DecodedFrames == 0 {
		s.WriteString(warningStyle.Render("Waiting for BMS frames..."))
		s.WriteString("\n\n")
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(m.renderPack()),
		boxStyle.Render(m.renderCells()),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(m.renderErrors()),
		boxStyle.Render(m.renderCounters()),
	)
	panels := []string{left, " ", right}
	if m.showControls {
		panels = append(panels, " ", boxStyle.Render(m.controls.View()))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	s.WriteString("\n")
	s.WriteString(m.renderStatistics())
	s.WriteString("\n\n")
	s.WriteString(m.renderEvents())

	return s.String()
}

func (m dashboardModel) renderPack() string {
	var b strings.Builder
	st := m.state.Status
	pack := m.state.Pack

	stateStyle := valueStyle
	if st.State == sbs.StateFault || st.State == sbs.StateCritErr {
		stateStyle = errorStyle
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("State:"), stateStyle.Render(st.State.String()))
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		labelStyle.Render("Voltage:"), valueStyle.Render(fmt.Sprintf("%.3f V", pack.Voltage)),
		labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.3f A", pack.Current)),
	)
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		labelStyle.Render("SoC:"), valueStyle.Render(fmt.Sprintf("%d%%", st.StateOfCharge)),
		labelStyle.Render("SoH:"), valueStyle.Render(fmt.Sprintf("%.1f%%", st.StateOfHealth)),
	)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Capacity:"),
		valueStyle.Render(fmt.Sprintf("%d / %d mAh", st.RemainingCapacity, st.FullCapacity)))

	t := m.state.Temperatures
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("Temps:"),
		valueStyle.Render(fmt.Sprintf("PS %d/%d  MCU %d  cells %d/%d",
			t.Powerstage1, t.Powerstage2, t.MCU, t.Cell1, t.Cell2)))
	return b.String()
}

func (m dashboardModel) renderCells() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Cells"))
	b.WriteString(headerStyle.Render(" (* balancing)"))
	b.WriteString("\n")

	cells := m.state.Cells.All()
	for i, v := range cells {
		n := i + 1
		cell := fmt.Sprintf("%2d:%3d", n, v)
		if m.state.Balancing.IsBalancing(n) {
			b.WriteString(warningStyle.Render(cell + "*"))
		} else {
			b.WriteString(valueStyle.Render(cell + " "))
		}
		if n%7 == 0 {
			if n != len(cells) {
				b.WriteString("\n")
			}
		} else {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func (m dashboardModel) renderErrors() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Errors"))
	b.WriteString("\n")

	active := m.state.Pack.Errors.Active()
	if len(active) == 0 {
		b.WriteString(valueStyle.Render("none"))
	}
	for i, flag := range active {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(errorStyle.Render("✗ " + flag.String()))
	}

	flags := m.state.Pack.Flags
	if flags.ChargePlugDetected() {
		b.WriteString("\n" + warningStyle.Render("Charge plug detected"))
	}
	if flags.PassiveCurrentFlow() {
		b.WriteString("\n" + warningStyle.Render("Current flow in passive state"))
	}
	if flags.CANTimeout() {
		b.WriteString("\n" + warningStyle.Render("CAN timeout"))
	}
	return b.String()
}

func (m dashboardModel) renderCounters() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Messages"))
	b.WriteString("\n")
	for msg := sbs.MessageInfo01; msg <= sbs.MessageInfo06; msg++ {
		age, ok := m.age(msg)
		line := fmt.Sprintf("%s %6d  ", msg, m.state.Count(msg))
		switch {
		case !ok:
			b.WriteString(headerStyle.Render(line + "never"))
		case m.stale(msg):
			b.WriteString(warningStyle.Render(line + formatAge(age) + " STALE"))
		default:
			b.WriteString(valueStyle.Render(line + formatAge(age)))
		}
		if msg != sbs.MessageInfo06 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m dashboardModel) renderStatistics() string {
	m.stats.CalculateRates()
	errStyle := valueStyle
	if m.stats.MalformedFrames+m.stats.TransportErrors > 0 {
		errStyle = errorStyle
	}
	return fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Other:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.UnrecognizedFrames)),
		labelStyle.Render("Malformed:"), errStyle.Render(fmt.Sprintf("%d", m.stats.MalformedFrames)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
	)
}

func (m dashboardModel) renderEvents() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Recent Events:"))
	b.WriteString("\n")

	logHeight := max(5, m.height-24)
	start := max(0, len(m.events)-logHeight)

	var content strings.Builder
	if len(m.events) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i := start; i < len(m.events); i++ {
		e := m.events[i]
		ts := headerStyle.Render(e.timestamp.Format("15:04:05.000"))
		if e.isError {
			fmt.Fprintf(&content, "%s %s", ts, errorStyle.Render("✗ "+e.message))
		} else {
			fmt.Fprintf(&content, "%s %s", ts, warningStyle.Render("ℹ "+e.message))
		}
		if i != len(m.events)-1 {
			content.WriteString("\n")
		}
	}
	b.WriteString(boxStyle.Width(max(20, m.width-4)).Render(content.String()))
	return b.String()
}

// formatAge formats an age with sub-second precision below a minute
func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0.0s"
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
