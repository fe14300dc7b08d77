// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/dustin/go-humanize"

	"github.com/hybridgroup/cylon-spark/pkg/service"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

const (
	refreshInterval = time.Second
)

// Source provides the data shown in the UI.
type Source interface {
	Info() service.Info
	Store() *status.Store
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headingStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

type Root struct {
	source Source
	width  int
	height int
	now    time.Time

	info     service.Info
	readings []status.Reading
	events   []status.Event
	errors   int
	eventLog viewport.Model
}

var _ tea.Model = Root{}

// New creates the root model showing the status of the given source.
func New(source Source, width, height int) Root {
	r := Root{
		source:   source,
		width:    width,
		height:   height,
		eventLog: viewport.New(width, 0),
	}
	return r.refresh(time.Now())
}

// Handler creates a model for each SSH session.
func Handler(source Source) func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		pty, _, _ := s.Pty()
		return New(source, pty.Window.Width, pty.Window.Height), []tea.ProgramOption{tea.WithAltScreen()}
	}
}

// Init is the first function that will be called. It returns an optional
// initial command. To not perform an initial command return nil.
func (r Root) Init() tea.Cmd {
	return doRefresh()
}

// Update is called when a message is received. Use it to inspect messages
// and, in response, update the model and/or send a command.
func (r Root) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		return r.refresh(time.Time(msg)), doRefresh()
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.height = msg.Height
		r = r.layout()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		}
	}

	// Handle keyboard and mouse events in the event log
	var cmd tea.Cmd
	r.eventLog, cmd = r.eventLog.Update(msg)
	return r, cmd
}

// View renders the program's UI, which is just a string. The view is
// rendered after every Update.
func (r Root) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		r.headerView(),
		r.readingsView(),
		headingStyle.Render("Recent events"),
		r.eventLog.View(),
		helpStyle.Render("↑/↓ - Scroll events   q - Disconnect"),
	)
}

func (r Root) headerView() string {
	state := "disconnected"
	if r.info.Connected {
		state = "connected"
	}
	s := titleStyle.Render(fmt.Sprintf("Core %s", r.info.DeviceID)) +
		fmt.Sprintf(" via %s (%s), up %s", r.info.Adaptor, state, strings.TrimSpace(humanize.RelTime(r.info.StartedAt, r.now, "", "")))
	if r.errors > 0 {
		s += " " + errorStyle.Render(fmt.Sprintf("%d errors", r.errors))
	}
	return s + "\n"
}

func (r Root) readingsView() string {
	if len(r.readings) == 0 {
		return "No readings\n"
	}
	var b strings.Builder
	b.WriteString(headingStyle.Render(fmt.Sprintf("%-6s %-8s %6s  %-16s", "PIN", "MODE", "VALUE", "UPDATED")) + "\n")
	for _, rd := range r.readings {
		line := fmt.Sprintf("%-6s %-8s %6d  %-16s", rd.Pin, rd.Mode, rd.Value, humanize.RelTime(rd.UpdatedAt, r.now, "ago", "from now"))
		if rd.Error != "" {
			line += " " + errorStyle.Render(rd.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (r Root) eventsContent() string {
	if len(r.events) == 0 {
		return "No events"
	}
	lines := make([]string, 0, len(r.events))
	// Newest first
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		lines = append(lines, fmt.Sprintf("%s  %-16s %s", ev.ReceivedAt.Format("15:04:05"), ev.Name, ev.Data))
	}
	return strings.Join(lines, "\n")
}

// refresh reloads all data from the source.
func (r Root) refresh(now time.Time) Root {
	r.now = now
	r.info = r.source.Info()
	store := r.source.Store()
	r.readings = store.Readings()
	r.events = store.Events()
	r.errors = store.ErrorCount()
	r.eventLog.SetContent(r.eventsContent())
	return r.layout()
}

// layout sizes the event log to the remaining space.
func (r Root) layout() Root {
	used := lipgloss.Height(r.headerView()) + lipgloss.Height(r.readingsView()) + 2
	r.eventLog.Width = r.width
	r.eventLog.Height = r.height - used
	if r.eventLog.Height < 3 {
		r.eventLog.Height = 3
	}
	return r
}

type refreshMsg time.Time

func doRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}
