package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/LuminPulse-AI/chatbird"
)

var (
	chatPurple    = lipgloss.Color("#A855F7")
	chatGreen     = lipgloss.Color("#22C55E")
	chatYellow    = lipgloss.Color("#FBBF24")
	chatRed       = lipgloss.Color("#EF4444")
	chatGray      = lipgloss.Color("#6B7280")
	chatLightGray = lipgloss.Color("#9CA3AF")
	chatWhite     = lipgloss.Color("#F9FAFB")

	chatTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(chatPurple)

	chatUserLabelStyle = lipgloss.NewStyle().
				Foreground(chatPurple).
				Bold(true)

	chatPeerLabelStyle = lipgloss.NewStyle().
				Foreground(chatGreen).
				Bold(true)

	chatBodyStyle = lipgloss.NewStyle().
			Foreground(chatWhite)

	chatTimeStyle = lipgloss.NewStyle().
			Foreground(chatGray)

	chatAdminStyle = lipgloss.NewStyle().
			Foreground(chatYellow).
			Italic(true)

	chatPendingStyle = lipgloss.NewStyle().
				Foreground(chatLightGray).
				Italic(true)

	chatErrorMsgStyle = lipgloss.NewStyle().
				Foreground(chatRed).
				Bold(true)

	chatInputBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(chatPurple).
				Padding(0, 1)

	chatStatusStyle = lipgloss.NewStyle().
			Foreground(chatGray)

	chatHelpStyle = lipgloss.NewStyle().
			Foreground(chatGray)
)

// chatModel renders a ChannelView. The view is the single source of truth:
// every delegate callback re-renders from its Items snapshot.
type chatModel struct {
	view       *chatbird.ChannelView
	events     <-chan viewEvent
	userID     string
	beforeSend func(text string)

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	width   int
	height  int
	ready   bool
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
}

type viewUpdateMsg viewEvent
type chatDoneMsg struct{}

func newChatModel(view *chatbird.ChannelView, events <-chan viewEvent, userID string, beforeSend func(string)) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false) // Enter sends

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(chatPurple)

	vp := viewport.New(80, 20)
	vp.KeyMap = scrollKeys()

	ctx, cancel := context.WithCancel(context.Background())

	return chatModel{
		view:       view,
		events:     events,
		userID:     userID,
		beforeSend: beforeSend,
		textarea:   ta,
		viewport:   vp,
		spinner:    sp,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// scrollKeys leaves letter keys to the input box.
func scrollKeys() viewport.KeyMap {
	return viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		Up:       key.NewBinding(key.WithKeys("up")),
		Down:     key.NewBinding(key.WithKeys("down")),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.waitForUpdate(),
	)
}

func (m chatModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return chatDoneMsg{}
		case ev := <-m.events:
			return viewUpdateMsg(ev)
		}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancel()
			return m, tea.Quit

		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			if input != "" {
				if m.beforeSend != nil {
					m.beforeSend(input)
				}
				m.view.SendText(input)
				m.textarea.Reset()
				m.lastErr = nil
			}
			return m, nil

		case tea.KeyCtrlR:
			if id := m.lastFailed(); id != "" {
				if err := m.view.Resend(id); err != nil {
					m.lastErr = err
				} else {
					m.lastErr = nil
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		inputHeight := 3
		statusHeight := 1
		helpHeight := 1
		viewportHeight := m.height - headerHeight - inputHeight - statusHeight - helpHeight
		if viewportHeight < 1 {
			viewportHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.viewport.KeyMap = scrollKeys()
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}

		m.textarea.SetWidth(m.width - 4)
		m.render(chatbird.UpdateFirstLoad)

	case viewUpdateMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		}
		m.render(msg.update)
		cmds = append(cmds, m.waitForUpdate())

	case chatDoneMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)

	m.maybeLoadOlder()
	return m, tea.Batch(cmds...)
}

// maybeLoadOlder pages in history once the user has scrolled to the top.
func (m chatModel) maybeLoadOlder() {
	if m.ready && m.viewport.AtTop() && m.view.HasMoreOlder() && !m.view.IsLoadingOlder() {
		m.view.LoadOlder()
	}
}

// lastFailed returns the request id of the most recent failed message.
func (m chatModel) lastFailed() string {
	msgs := m.view.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].State == chatbird.StateFailed && msgs[i].RequestID != "" {
			return msgs[i].RequestID
		}
	}
	return ""
}

// render refreshes the viewport. A prepended page keeps the lines the
// user was looking at in place.
func (m *chatModel) render(update chatbird.UpdateType) {
	if !m.ready {
		return
	}
	wasBottom := m.viewport.AtBottom()
	oldLines := m.viewport.TotalLineCount()
	oldOffset := m.viewport.YOffset

	m.viewport.SetContent(m.content())

	switch {
	case update == chatbird.UpdatePagination:
		m.viewport.SetYOffset(oldOffset + m.viewport.TotalLineCount() - oldLines)
	case update == chatbird.UpdateFirstLoad, wasBottom:
		m.viewport.GotoBottom()
	}
}

func (m chatModel) content() string {
	items := m.view.Items()
	var b strings.Builder

	if len(items) > 0 && !m.view.HasMoreOlder() && !m.view.IsLoadingOlder() {
		b.WriteString(chatStatusStyle.Render("── beginning of channel ──") + "\n\n")
	}

	for _, it := range items {
		switch it := it.(type) {
		case chatbird.LoadingPlaceholder:
			b.WriteString(chatPendingStyle.Render("loading older messages...") + "\n\n")
		case chatbird.Message:
			m.renderMessage(&b, it)
		}
	}
	return b.String()
}

func (m chatModel) renderMessage(b *strings.Builder, msg chatbird.Message) {
	if msg.Kind == chatbird.KindAdmin {
		b.WriteString(chatAdminStyle.Render(msg.Text) + "\n\n")
		return
	}

	incoming := msg.IsIncoming(m.userID)
	label := chatPeerLabelStyle.Render(msg.Sender())
	if !incoming {
		label = chatUserLabelStyle.Render("You")
	}
	header := label + " " + chatTimeStyle.Render(msg.Date().Format("15:04"))

	switch msg.Status() {
	case "sending":
		header += " " + chatPendingStyle.Render("sending...")
	case "failed":
		header += " " + chatErrorMsgStyle.Render("failed, ctrl+r to retry")
	default:
		if !incoming && m.view.Channel().MemberCount > 1 {
			if unread := m.view.UnreadCount(msg); unread == 0 {
				header += " " + chatTimeStyle.Render("read")
			} else {
				header += " " + chatTimeStyle.Render(fmt.Sprintf("%d unread", unread))
			}
		}
	}

	b.WriteString(header + "\n")
	body := chatBodyStyle
	if m.viewport.Width > 2 {
		body = body.Width(m.viewport.Width - 2)
	}
	b.WriteString(body.Render(messageBody(msg)) + "\n\n")
}

func (m chatModel) statusLine() string {
	switch {
	case m.view.IsLoadingOlder():
		return m.spinner.View() + " " + chatStatusStyle.Render("Loading history...")
	case m.lastErr != nil:
		return chatErrorMsgStyle.Render("Error: " + m.lastErr.Error())
	}
	if typing := m.view.TypingUsers(); len(typing) > 0 {
		verb := " is typing..."
		if len(typing) > 1 {
			verb = " are typing..."
		}
		return chatStatusStyle.Render(strings.Join(typing, ", ") + verb)
	}
	return ""
}

func (m chatModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	ch := m.view.Channel()
	header := chatTitleStyle.Render(ch.Title()) + "  " +
		chatStatusStyle.Render(fmt.Sprintf("%d members", ch.MemberCount))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(m.width, 1)) + "\n")

	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(chatInputBoxStyle.Render(m.textarea.View()) + "\n")
	b.WriteString(chatHelpStyle.Render("Enter to send • ctrl+r retry failed • PgUp/scroll for history • Esc to quit"))

	return b.String()
}
