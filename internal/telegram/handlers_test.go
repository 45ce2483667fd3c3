package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/flemzord/clawbridge/internal/state"
)

func botMessage(id int, text string) *Message {
	return &Message{
		MessageID: id,
		From:      &User{ID: 42, IsBot: true},
		Chat:      Chat{ID: testChatID},
		Text:      text,
	}
}

func operatorMessage(text string) *Message {
	return &Message{
		MessageID: 1,
		From:      &User{ID: 7},
		Chat:      Chat{ID: testChatID},
		Text:      text,
	}
}

func TestUnauthorizedChatIsRejected(t *testing.T) {
	a, api, store := newTestAdapter(t)

	msg := operatorMessage("/pause")
	msg.Chat.ID = 999

	a.HandleUpdate(context.Background(), Update{Message: msg})

	if store.Paused() {
		t.Error("unauthorized chat mutated state")
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1 rejection", len(sends))
	}
	if text, _ := sends[0]["text"].(string); text != "⛔ Non autorisé." {
		t.Errorf("rejection text = %q", text)
	}
	if sends[0]["chat_id"] != float64(999) {
		t.Errorf("rejection sent to chat %v, want 999", sends[0]["chat_id"])
	}
}

func TestPauseAndResume(t *testing.T) {
	a, _, store := newTestAdapter(t)
	ctx := context.Background()

	a.HandleUpdate(ctx, Update{Message: operatorMessage("/pause")})
	if !store.Paused() {
		t.Fatal("pause command did not set the flag")
	}

	a.HandleUpdate(ctx, Update{Message: operatorMessage("/resume")})
	if store.Paused() {
		t.Fatal("resume command did not clear the flag")
	}
}

func TestCommandWithBotNameSuffix(t *testing.T) {
	a, _, store := newTestAdapter(t)

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("/pause@bridge_bot")})
	if !store.Paused() {
		t.Error("suffixed command not recognized")
	}
}

func TestMsgCommandQueues(t *testing.T) {
	a, api, store := newTestAdapter(t)

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("/msg a1 run the linter please")})

	msgs := store.Drain("a1")
	if len(msgs) != 1 || msgs[0] != "run the linter please" {
		t.Errorf("queued = %v", msgs)
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "a1") {
		t.Errorf("ack = %v", sends)
	}
}

func TestMsgCommandUsage(t *testing.T) {
	a, api, _ := newTestAdapter(t)

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("/msg a1")})

	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || !strings.HasPrefix(sends[0]["text"].(string), "Usage:") {
		t.Errorf("usage reply = %v", sends)
	}
}

func TestApproveAllCommand(t *testing.T) {
	a, _, store := newTestAdapter(t)

	rec1 := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})
	rec2 := store.CreateApproval(state.ApprovalRequest{AgentID: "a2", ToolName: "write"})

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("/approve_all")})

	for _, rec := range []*state.Approval{rec1, rec2} {
		select {
		case <-rec.Done():
		default:
			t.Fatalf("approval %s not resolved by approve_all", rec.ID)
		}
		res := rec.Resolution()
		if res.Decision != state.DecisionApprove || res.Reason != "bulk approved" {
			t.Errorf("resolution = %+v", res)
		}
	}
}

func TestDenyAllCommand(t *testing.T) {
	a, _, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("/deny_all")})

	res := rec.Resolution()
	if res.Decision != state.DecisionDeny || res.Reason != "bulk denied" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestShutdownRequiresConfirm(t *testing.T) {
	api := newFakeAPI(t)
	called := false
	a := NewAdapter(Options{
		Client:          api.client(),
		ChatID:          testChatID,
		Logger:          discardLogger(),
		Store:           state.NewStore(),
		RequestShutdown: func() { called = true },
	})
	ctx := context.Background()

	a.HandleUpdate(ctx, Update{Message: operatorMessage("/shutdown")})
	if called {
		t.Fatal("shutdown fired without confirmation")
	}

	a.HandleUpdate(ctx, Update{Message: operatorMessage("/shutdown confirm")})
	if !called {
		t.Fatal("confirmed shutdown did not fire")
	}
}

func callbackUpdate(data string, promptMsgID int) Update {
	return Update{CallbackQuery: &CallbackQuery{
		ID:      "cb1",
		From:    User{ID: 7},
		Data:    data,
		Message: botMessage(promptMsgID, "🔐 Approbation requise"),
	}}
}

func TestCallbackApprove(t *testing.T) {
	a, api, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", AgentName: "Builder", ToolName: "bash"})

	a.HandleUpdate(context.Background(), callbackUpdate("approve:"+rec.ID, 200))

	res := rec.Resolution()
	if res.Decision != state.DecisionApprove || res.Reason != "user approved" {
		t.Errorf("resolution = %+v", res)
	}

	acks := api.callsTo("answerCallbackQuery")
	if len(acks) != 1 || acks[0]["text"] != "✅ Approuvé!" {
		t.Errorf("ack = %v", acks)
	}
	edits := api.callsTo("editMessageText")
	if len(edits) != 1 || !strings.Contains(edits[0]["text"].(string), "✅ APPROUVÉ") {
		t.Errorf("edit = %v", edits)
	}
}

func TestCallbackDeny(t *testing.T) {
	a, _, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})

	a.HandleUpdate(context.Background(), callbackUpdate("deny:"+rec.ID, 200))

	res := rec.Resolution()
	if res.Decision != state.DecisionDeny || res.Reason != "user denied" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestCallbackApproveAllEnablesSession(t *testing.T) {
	a, _, store := newTestAdapter(t)
	store.RegisterAgent("a1", "Builder")
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", AgentName: "Builder", ToolName: "bash"})

	a.HandleUpdate(context.Background(), callbackUpdate("approve_all:"+rec.ID, 200))

	res := rec.Resolution()
	if res.Decision != state.DecisionApprove || res.Reason != "user approved (session auto-approve enabled)" {
		t.Errorf("resolution = %+v", res)
	}
	if !store.AutoApprove("a1") {
		t.Error("session auto-approve not enabled")
	}
}

func TestCallbackOnExpiredRequest(t *testing.T) {
	a, api, _ := newTestAdapter(t)

	a.HandleUpdate(context.Background(), callbackUpdate("approve:deadbeef", 200))

	acks := api.callsTo("answerCallbackQuery")
	if len(acks) != 1 {
		t.Fatalf("answerCallbackQuery calls = %d, want 1", len(acks))
	}
	if acks[0]["text"] != "⚠️ Requête expirée ou déjà traitée" || acks[0]["show_alert"] != true {
		t.Errorf("ack = %v", acks[0])
	}
	if edits := api.callsTo("editMessageText"); len(edits) != 0 {
		t.Error("prompt edited for an unknown request")
	}
}

func TestCallbackSecondPressLoses(t *testing.T) {
	a, api, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})

	a.HandleUpdate(context.Background(), callbackUpdate("approve:"+rec.ID, 200))
	a.HandleUpdate(context.Background(), callbackUpdate("deny:"+rec.ID, 200))

	// First press stands.
	if res := rec.Resolution(); res.Decision != state.DecisionApprove {
		t.Errorf("resolution flipped to %+v", res)
	}
	acks := api.callsTo("answerCallbackQuery")
	if len(acks) != 2 || acks[1]["text"] != "⚠️ Requête expirée ou déjà traitée" {
		t.Errorf("second ack = %v", acks)
	}
}

func TestCallbackFromWrongChat(t *testing.T) {
	a, api, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})

	update := callbackUpdate("approve:"+rec.ID, 200)
	update.CallbackQuery.Message.Chat.ID = 999
	a.HandleUpdate(context.Background(), update)

	select {
	case <-rec.Done():
		t.Fatal("unauthorized callback resolved the approval")
	default:
	}
	acks := api.callsTo("answerCallbackQuery")
	if len(acks) != 1 || acks[0]["text"] != "Non autorisé" {
		t.Errorf("ack = %v", acks)
	}
}

func TestReplyToPromptApprovesWithInstructions(t *testing.T) {
	a, _, store := newTestAdapter(t)
	rec := store.CreateApproval(state.ApprovalRequest{AgentID: "a1", ToolName: "bash"})
	store.MapPrompt(300, rec.ID)

	msg := operatorMessage("use the staging cluster")
	msg.ReplyToMessage = botMessage(300, "🔐 Approbation requise")
	a.HandleUpdate(context.Background(), Update{Message: msg})

	res := rec.Resolution()
	if res.Decision != state.DecisionApprove || res.Reason != "approved with instructions" {
		t.Errorf("resolution = %+v", res)
	}
	if res.UserMessage != "use the staging cluster" {
		t.Errorf("user message = %q", res.UserMessage)
	}
}

func TestPlainTextQueuesForMain(t *testing.T) {
	a, api, store := newTestAdapter(t)

	a.HandleUpdate(context.Background(), Update{Message: operatorMessage("please also run the tests")})

	msgs := store.Drain("main")
	if len(msgs) != 1 || msgs[0] != "please also run the tests" {
		t.Errorf("queued = %v", msgs)
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0]["text"].(string), "main") {
		t.Errorf("ack = %v", sends)
	}
}

func TestReplyTextRoutesToMentionedAgent(t *testing.T) {
	a, _, store := newTestAdapter(t)
	store.RegisterAgent("builder-2", "Builder")

	msg := operatorMessage("stop what you are doing")
	msg.ReplyToMessage = botMessage(50, "🏁 Agent builder-2 finished the task")
	a.HandleUpdate(context.Background(), Update{Message: msg})

	if msgs := store.Drain("builder-2"); len(msgs) != 1 {
		t.Errorf("builder-2 queue = %v", msgs)
	}
}

func TestRouteTextTokenBoundaries(t *testing.T) {
	a, _, store := newTestAdapter(t)
	store.RegisterAgent("a1", "short")

	// "a1" inside "a1b2" must not match.
	msg := operatorMessage("noted")
	msg.ReplyToMessage = botMessage(50, "checksum a1b2 verified")
	if got := a.routeText(msg); got != "main" {
		t.Errorf("routeText = %q, want main (substring must not match)", got)
	}

	msg.ReplyToMessage = botMessage(51, "agent a1 says hello")
	if got := a.routeText(msg); got != "a1" {
		t.Errorf("routeText = %q, want a1", got)
	}
}

func TestContainsToken(t *testing.T) {
	tests := []struct {
		text, token string
		want        bool
	}{
		{"agent a1 done", "a1", true},
		{"a1", "a1", true},
		{"(a1)", "a1", true},
		{"a1b2", "a1", false},
		{"xa1", "a1", false},
		{"a1-extra", "a1", false},
		{"", "a1", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := containsToken(tt.text, tt.token); got != tt.want {
			t.Errorf("containsToken(%q, %q) = %v, want %v", tt.text, tt.token, got, tt.want)
		}
	}
}
