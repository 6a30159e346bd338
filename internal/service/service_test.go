package service

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/Mariosam2/chat-app-backend/internal/config"
	"github.com/Mariosam2/chat-app-backend/internal/db"
	"github.com/Mariosam2/chat-app-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// testDB 连接测试库，环境不可用时跳过（与 CI 里的 Postgres 容器配合）。
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=chatapp_test port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := db.Connect(dsn)
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return gdb
}

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
}

// registerUser 注册一个用户名邮箱唯一的测试用户並返回其公开 UUID。
func registerUser(t *testing.T, users *UserService) string {
	t.Helper()
	suffix := uuid.NewString()[:8]
	dto, err := users.Register("user_"+suffix, fmt.Sprintf("%s@test.local", suffix), "Str0ng!pass")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return dto.UUID
}

func TestUserService_RegisterValidation(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())

	suffix := uuid.NewString()[:8]
	username := "user_" + suffix
	email := suffix + "@test.local"

	if _, err := users.Register(username, email, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("Register(weak password) error = %v, want ErrWeakPassword", err)
	}
	if _, err := users.Register(username, email, "Str0ng!pass"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := users.Register(username, "other_"+email, "Str0ng!pass"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Register(dup username) error = %v, want ErrUsernameTaken", err)
	}
	if _, err := users.Register("other_"+username, email, "Str0ng!pass"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Register(dup email) error = %v, want ErrEmailTaken", err)
	}
}

func TestUserService_LoginAndRefreshRotation(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())

	suffix := uuid.NewString()[:8]
	email := suffix + "@test.local"
	if _, err := users.Register("user_"+suffix, email, "Str0ng!pass"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := users.Login(email, "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong password) error = %v, want ErrInvalidCredentials", err)
	}

	result, err := users.Login(email, "Str0ng!pass")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("Login() returned empty tokens")
	}

	refreshed, err := users.RefreshTokens(result.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if refreshed.RefreshToken == result.RefreshToken {
		t.Error("RefreshTokens() did not rotate the refresh token")
	}
	// 旋转后旧 token 必须立刻失效。
	if _, err := users.RefreshTokens(result.RefreshToken); err == nil {
		t.Error("RefreshTokens() accepted a rotated-out token")
	}
}

// Scenario A：两名没有会话的用户建会话 → 新会话、两条成员行、lastMessage 为 null。
func TestChatService_CreateAndDuplicatePair(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)

	chat, created, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created {
		t.Fatal("Create() reported an existing chat for a fresh pair")
	}
	if chat.LastMessage != nil {
		t.Error("new chat lastMessage should be null")
	}

	var memberCount int64
	if err := gdb.Model(&models.UserChat{}).
		Joins("JOIN chats ON chats.id = user_chats.chat_id AND chats.uuid = ?", chat.UUID).
		Count(&memberCount).Error; err != nil {
		t.Fatalf("count memberships: %v", err)
	}
	if memberCount != 2 {
		t.Errorf("membership rows = %d, want 2", memberCount)
	}

	// 同一对用户再建会话必须返回既有的那一个，方向无关。
	again, created, err := chats.Create(y, x)
	if err != nil {
		t.Fatalf("Create() second call error = %v", err)
	}
	if created {
		t.Error("Create() built a duplicate chat for an already-paired couple")
	}
	if again.UUID != chat.UUID {
		t.Errorf("Create() returned %q, want existing chat %q", again.UUID, chat.UUID)
	}
}

// Scenario B：X 在会话里发 "hello" → 消息落库，sender=X、receiver=Y。
func TestMessageService_Send(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	msg, err := messages.Send(x, y, chat.UUID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want hello", msg.Content)
	}
	if msg.SenderUUID != x {
		t.Errorf("SenderUUID = %q, want %q", msg.SenderUUID, x)
	}
	if msg.UUID == "" {
		t.Error("message has no public uuid")
	}
}

func TestMessageService_SendFailsWhenNotMember(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	z := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 局外人既不能发也不能收。
	if _, err := messages.Send(z, y, chat.UUID, "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Send(outsider) error = %v, want ErrNotParticipant", err)
	}
	if _, err := messages.Send(x, z, chat.UUID, "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Send(to outsider) error = %v, want ErrNotParticipant", err)
	}

	// 发送者先"仅对我删除"了会话，再发送同样失败。
	if err := chats.DeleteForMe(x, chat.UUID); err != nil {
		t.Fatalf("DeleteForMe() error = %v", err)
	}
	if _, err := messages.Send(x, y, chat.UUID, "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Send(after leaving) error = %v, want ErrNotParticipant", err)
	}
}

// Scenario C + 幂等拒绝：接收方"仅对我删除"后，发送方仍可见，
// 第二次删除同一侧报 AlreadyDeleted。
func TestMessageService_DeleteForUserAsymmetry(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg, err := messages.Send(x, y, chat.UUID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deletedUUID, err := messages.DeleteForUser(y, msg.UUID, false)
	if err != nil {
		t.Fatalf("DeleteForUser() error = %v", err)
	}
	if deletedUUID != msg.UUID {
		t.Errorf("deleted uuid = %q, want %q", deletedUUID, msg.UUID)
	}

	// 对应侧已置空，重复删除被拒。
	if _, err := messages.DeleteForUser(y, msg.UUID, false); !errors.Is(err, ErrAlreadyDeleted) {
		t.Errorf("second DeleteForUser() error = %v, want ErrAlreadyDeleted", err)
	}

	// 发送方列表仍然看得到，接收方列表看不到了。
	forX, err := messages.ListForUserInChat(x, chat.UUID)
	if err != nil {
		t.Fatalf("ListForUserInChat(x) error = %v", err)
	}
	if len(forX) != 1 || forX[0].Status != "sent" {
		t.Errorf("sender view = %+v, want the message tagged sent", forX)
	}
	forY, err := messages.ListForUserInChat(y, chat.UUID)
	if err != nil {
		t.Fatalf("ListForUserInChat(y) error = %v", err)
	}
	if len(forY) != 0 {
		t.Errorf("receiver view = %+v, want empty", forY)
	}
}

// 编辑后的内容和 edited_at 必须体现在后续读取里。
func TestMessageService_EditRoundTrip(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg, err := messages.Send(x, y, chat.UUID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// 只有原始发送者能编辑。
	if _, err := messages.Edit(y, msg.UUID, "hijacked"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Edit(by receiver) error = %v, want ErrMessageNotFound", err)
	}

	edited, err := messages.Edit(x, msg.UUID, "hello world")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if edited.Content != "hello world" || edited.EditedAt == nil {
		t.Errorf("Edit() result = %+v", edited)
	}

	listed, err := messages.ListForUserInChat(x, chat.UUID)
	if err != nil {
		t.Fatalf("ListForUserInChat() error = %v", err)
	}
	if len(listed) != 1 || listed[0].Content != "hello world" || listed[0].EditedAt == nil {
		t.Errorf("listing after edit = %+v", listed)
	}
}

func TestChatService_DeleteForAllIdempotence(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := chats.DeleteForAll(x, chat.UUID); err != nil {
		t.Fatalf("DeleteForAll() error = %v", err)
	}
	if err := chats.DeleteForAll(x, chat.UUID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("second DeleteForAll() error = %v, want ErrChatNotFound", err)
	}

	var memberCount int64
	if err := gdb.Model(&models.UserChat{}).
		Joins("JOIN chats ON chats.id = user_chats.chat_id AND chats.uuid = ?", chat.UUID).
		Count(&memberCount).Error; err != nil {
		t.Fatalf("count memberships: %v", err)
	}
	if memberCount != 0 {
		t.Errorf("membership rows after delete = %d, want 0", memberCount)
	}
}

func TestChatService_DeleteForMeHidesChatOnlyForMe(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := chats.DeleteForMe(x, chat.UUID); err != nil {
		t.Fatalf("DeleteForMe() error = %v", err)
	}

	forX, err := chats.ListForUser(x)
	if err != nil {
		t.Fatalf("ListForUser(x) error = %v", err)
	}
	for _, c := range forX {
		if c.UUID == chat.UUID {
			t.Error("chat still listed for the user who deleted it for themselves")
		}
	}

	forY, err := chats.ListForUser(y)
	if err != nil {
		t.Fatalf("ListForUser(y) error = %v", err)
	}
	found := false
	for _, c := range forY {
		if c.UUID == chat.UUID {
			found = true
		}
	}
	if !found {
		t.Error("chat disappeared for the counterpart too")
	}
}

func TestChatService_ListForUserLastMessage(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := messages.Send(x, y, chat.UUID, "first"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := messages.Send(y, x, chat.UUID, "second"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	forX, err := chats.ListForUser(x)
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	var dto *ChatDTO
	for i := range forX {
		if forX[i].UUID == chat.UUID {
			dto = &forX[i]
		}
	}
	if dto == nil {
		t.Fatal("chat missing from listing")
	}
	if dto.User.UUID != y {
		t.Errorf("counterpart = %q, want %q", dto.User.UUID, y)
	}
	if dto.LastMessage == nil || dto.LastMessage.Content != "second" || dto.LastMessage.Status != "received" {
		t.Errorf("lastMessage = %+v, want second/received", dto.LastMessage)
	}
}

func TestChatService_MemberUUIDs(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	uuids, err := chats.MemberUUIDs(chat.UUID)
	if err != nil {
		t.Fatalf("MemberUUIDs() error = %v", err)
	}
	got := map[string]bool{}
	for _, u := range uuids {
		got[u] = true
	}
	if len(uuids) != 2 || !got[x] || !got[y] {
		t.Errorf("MemberUUIDs() = %v, want both members", uuids)
	}

	if _, err := chats.MemberUUIDs(uuid.NewString()); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("MemberUUIDs(unknown) error = %v, want ErrChatNotFound", err)
	}
}

// 消息两端查询：单侧软删除后对应侧为 null，另一侧保留。
func TestMessageService_Participants(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg, err := messages.Send(x, y, chat.UUID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	both, err := messages.Participants(msg.UUID)
	if err != nil {
		t.Fatalf("Participants() error = %v", err)
	}
	if both.Sender == nil || both.Sender.UUID != x || both.Receiver == nil || both.Receiver.UUID != y {
		t.Errorf("Participants() = %+v, want both sides", both)
	}

	if _, err := messages.DeleteForUser(y, msg.UUID, false); err != nil {
		t.Fatalf("DeleteForUser() error = %v", err)
	}
	after, err := messages.Participants(msg.UUID)
	if err != nil {
		t.Fatalf("Participants() after delete error = %v", err)
	}
	if after.Receiver != nil {
		t.Errorf("receiver side = %+v, want null after the per-side delete", after.Receiver)
	}
	if after.Sender == nil || after.Sender.UUID != x {
		t.Errorf("sender side = %+v, want preserved", after.Sender)
	}

	if _, err := messages.Participants(uuid.NewString()); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Participants(unknown) error = %v, want ErrMessageNotFound", err)
	}
}

// Scenario D：X 删号 → 共享会话对双方硬删除，X 发出的消息保留内容但
// sender_id 置空，X 之后不可登录。
func TestUserService_DeleteCascade(t *testing.T) {
	gdb := testDB(t)
	users := NewUserService(gdb, testConfig())
	chats := NewChatService(gdb)
	messages := NewMessageService(gdb)

	x := registerUser(t, users)
	y := registerUser(t, users)
	chat, _, err := chats.Create(x, y)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg, err := messages.Send(x, y, chat.UUID, "goodbye")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := users.Delete(x); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := users.Get(x); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get(deleted user) error = %v, want ErrUserNotFound", err)
	}

	forY, err := chats.ListForUser(y)
	if err != nil {
		t.Fatalf("ListForUser(y) error = %v", err)
	}
	for _, c := range forY {
		if c.UUID == chat.UUID {
			t.Error("shared chat survived the account deletion")
		}
	}

	var row models.Message
	if err := gdb.Where("uuid = ?", msg.UUID).First(&row).Error; err != nil {
		t.Fatalf("message row lookup: %v", err)
	}
	if row.SenderID != nil {
		t.Error("sender_id not nulled by the cascade")
	}
	if row.Content != "goodbye" {
		t.Errorf("content = %q, want preserved", row.Content)
	}
}
