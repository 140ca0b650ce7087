package panel

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/teranos/turntable/capture"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	disabledStyle = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	focusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Bold(true)
	flashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
	boxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	stateStyles = map[capture.State]lipgloss.Style{
		capture.Idle:       lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
		capture.Capturing:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		capture.Finalizing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
)

// View renders the panel.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	v := m.loop.Store().Snapshot()
	st := m.status

	var screenshot strings.Builder
	fmt.Fprintf(&screenshot, "state    %s\n", stateStyles[st.State].Render(st.State.String()))
	if st.State != capture.Idle {
		fmt.Fprintf(&screenshot, "session  %s\n", st.SessionID)
		fmt.Fprintf(&screenshot, "frames   %d/%d  in flight %d  failed %d\n", st.Uploaded, st.Target, st.InFlight, st.Failed)
	}
	start := fmt.Sprintf("[c] start   target %d  [+/-]", v.TargetFrameCount)
	if m.lock.Disabled() {
		start = disabledStyle.Render(start)
	}
	screenshot.WriteString(start + "\n[x] cancel")
	if st.LastSaved != "" {
		fmt.Fprintf(&screenshot, "\nsaved    %s", st.LastSaved)
	}

	var model strings.Builder
	model.WriteString(m.fieldLine(fieldRotationX, fmt.Sprintf("%.3f rad/tick", v.Angle.X)) + "\n")
	model.WriteString(m.fieldLine(fieldRotationY, fmt.Sprintf("%.3f rad/tick", v.Angle.Y)) + "\n")
	model.WriteString(m.fieldLine(fieldRotationZ, fmt.Sprintf("%.3f rad/tick", v.Angle.Z)) + "\n")
	model.WriteString(m.fieldLine(fieldScaleChance, fmt.Sprintf("%.2f", v.ScaleChangeChance)) + "\n")
	model.WriteString(m.fieldLine(fieldScaleSmall, fmt.Sprintf("%.2f", v.ScaleOptions[0])) + "\n")
	model.WriteString(m.fieldLine(fieldScaleMedium, fmt.Sprintf("%.2f", v.ScaleOptions[1])) + "\n")
	model.WriteString(m.fieldLine(fieldScaleBig, fmt.Sprintf("%.2f", v.ScaleOptions[2])))

	var canvas strings.Builder
	canvas.WriteString(m.fieldLine(fieldCanvasWidth, fmt.Sprintf("%d", v.CanvasWidth)) + "\n")
	canvas.WriteString(m.fieldLine(fieldCanvasHeight, fmt.Sprintf("%d", v.CanvasHeight)) + "\n")
	canvas.WriteString(m.fieldLine(fieldBackground, background(v.UseRandomBackground, v.BackgroundImage, v.BackgroundColor)) + "\n")
	fmt.Fprintf(&canvas, "  %-13s %s  [h]", "hdr", onOff(v.UseHDRLighting))

	var camera strings.Builder
	camera.WriteString(m.fieldLine(fieldCameraFOV, fmt.Sprintf("%.0f", v.Camera.FOV)) + "\n")
	camera.WriteString(m.fieldLine(fieldCameraAspect, aspect(v.Camera.Aspect)) + "\n")
	camera.WriteString(m.fieldLine(fieldCameraX, fmt.Sprintf("%.1f", v.Camera.Position.X)) + "\n")
	camera.WriteString(m.fieldLine(fieldCameraY, fmt.Sprintf("%.1f", v.Camera.Position.Y)) + "\n")
	camera.WriteString(m.fieldLine(fieldCameraZ, fmt.Sprintf("%.1f", v.Camera.Position.Z)))

	var debug strings.Builder
	fmt.Fprintf(&debug, "ticks    %d\n", m.ticks)
	fmt.Fprintf(&debug, "normals  %s  [n]\n", onOff(v.DisplayNormals))
	debug.WriteString("model    " + m.modelSummary())

	sections := []string{
		titleStyle.Render("turntable"),
		section("Screenshot", screenshot.String()),
		section("Model", model.String()),
		section("Canvas", canvas.String()),
		section("Camera", camera.String()),
		section("Debug", debug.String()),
	}
	if m.flash != "" {
		sections = append(sections, flashStyle.Render(m.flash))
	}
	sections = append(sections, helpStyle.Render("tab/←/→ adjust · b random bg · r/v/k reset model/canvas/camera · q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func section(title, body string) string {
	return boxStyle.Render(headingStyle.Render(title) + "\n" + body)
}

func (m Model) fieldLine(f field, value string) string {
	line := fmt.Sprintf("%-13s %s", f.String(), value)
	if m.focus == f {
		return focusStyle.Render("> " + line)
	}
	return "  " + line
}

func (m Model) modelSummary() string {
	md := m.loop.Scene().Model()
	if md == nil {
		return "loading model"
	}
	r := md.Rotation()
	return fmt.Sprintf("%s  scale %.2f  rot (%.2f, %.2f, %.2f)", md.Name(), md.Scale(), r.X, r.Y, r.Z)
}

func background(random bool, image string, rgb uint32) string {
	switch {
	case random:
		return "random  [b]"
	case image != "":
		return image + "  [b]"
	default:
		return fmt.Sprintf("#%06x  [b]", rgb)
	}
}

func aspect(a float64) string {
	if a == 0 {
		return "auto"
	}
	return fmt.Sprintf("%.1f", a)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
