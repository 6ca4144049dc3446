package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/elizor/elizor/internal/project"
)

const refreshInterval = 3 * time.Second

// ProjectSource is the read side of the editor state shown in the tray.
type ProjectSource interface {
	Project() (project.Project, bool)
	PlaybackSegments() []project.Segment
}

// ExportSource reports export activity.
type ExportSource interface {
	ActiveCount() int
}

type Tray struct {
	projects ProjectSource
	exports  ExportSource
	logger   *slog.Logger

	statusItem  *systray.MenuItem
	projectItem *systray.MenuItem
	shotsItem   *systray.MenuItem
	exportItem  *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onExport func() error
	onQuit   func()
}

type TrayConfig struct {
	Projects ProjectSource
	Exports  ExportSource
	Logger   *slog.Logger
	OnExport func() error
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		projects: cfg.Projects,
		exports:  cfg.Exports,
		logger:   cfg.Logger,
		onExport: cfg.OnExport,
		onQuit:   cfg.OnQuit,
		stop:     make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	if len(iconBytes) > 0 {
		systray.SetIcon(iconBytes)
	}
	systray.SetTitle("Elizor")
	systray.SetTooltip("Elizor video editor agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.projectItem = systray.AddMenuItem("No project open", "Open project")
	t.projectItem.Disable()

	t.shotsItem = systray.AddMenuItem("Shots: 0", "Chosen takes of the open project")
	t.shotsItem.Disable()

	systray.AddSeparator()

	t.exportItem = systray.AddMenuItem("Export timeline", "Export the timeline as MP4")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Elizor")

	t.Refresh()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Refresh()
			case <-t.exportItem.ClickedCh:
				t.handleExport()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.stop:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleExport() {
	if t.onExport == nil {
		return
	}
	if err := t.onExport(); err != nil {
		t.logger.Warn("export from tray failed", "error", err)
		t.UpdateStatus("Export failed")
		return
	}
	t.Refresh()
}

// Refresh re-reads the project and export state into the menu.
func (t *Tray) Refresh() {
	v := buildView(t.projects, t.exports)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + v.status)
	t.projectItem.SetTitle(v.project)
	t.shotsItem.SetTitle(v.shots)
	if v.canExport {
		t.exportItem.Enable()
	} else {
		t.exportItem.Disable()
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem != nil {
		t.statusItem.SetTitle("Status: " + status)
	}
}

func (t *Tray) Quit() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	systray.Quit()
}

type menuView struct {
	status    string
	project   string
	shots     string
	canExport bool
}

func buildView(projects ProjectSource, exports ExportSource) menuView {
	v := menuView{status: "Idle", project: "No project open", shots: "Shots: 0"}
	if exports != nil {
		if n := exports.ActiveCount(); n > 0 {
			v.status = fmt.Sprintf("Exporting (%d)", n)
		}
	}
	if projects == nil {
		return v
	}
	p, ok := projects.Project()
	if !ok {
		return v
	}

	used := 0
	for _, s := range p.Shots {
		if s.Status == project.StatusUsed {
			used++
		}
	}
	segments := projects.PlaybackSegments()
	title := p.Title
	if title == "" {
		title = "Untitled"
	}
	v.project = "Project: " + title
	v.shots = fmt.Sprintf("Shots: %d/%d chosen (%.1fs)", used, len(p.Shots), project.TotalDuration(segments))
	v.canExport = len(segments) > 0
	return v
}

// ExportFunc adapts a submit call to the tray's export action.
func ExportFunc(submit func(ctx context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return submit(ctx)
	}
}
