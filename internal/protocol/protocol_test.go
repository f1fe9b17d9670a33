package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("<ALIVE>")))

	payload, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("<ALIVE>"), payload)
}

func TestReadMessageFramePrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("abc")))

	raw := buf.Bytes()
	assert.Equal(t, []byte{3, 0, 0, 0}, raw[:4], "length prefix must be 4-byte little-endian")
}

func TestReadMessageZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := ReadMessage(buf)
	assert.Error(t, err)
}

func TestReadMessageOversized(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadMessage(buf)
	assert.Error(t, err)
}

func TestReadMessageTruncated(t *testing.T) {
	buf := bytes.NewBuffer([]byte{10, 0, 0, 0, 'a', 'b'})
	_, err := ReadMessage(buf)
	assert.Error(t, err)
}

func TestTokenizeSingle(t *testing.T) {
	cmds := Tokenize("<ALIVE>")
	require.Len(t, cmds, 1)
	assert.Equal(t, TagAlive, cmds[0].Tag)
	assert.Empty(t, cmds[0].Value)
}

func TestTokenizeSequence(t *testing.T) {
	cmds := Tokenize("<GREETINGS>player<VER>1.4.2")
	require.Len(t, cmds, 2)
	assert.Equal(t, Command{Tag: TagGreetings, Value: "player"}, cmds[0])
	assert.Equal(t, Command{Tag: TagVersion, Value: "1.4.2"}, cmds[1])
}

func TestTokenizeChainedRoomCommands(t *testing.T) {
	cmds := Tokenize("<NEW>myroom<PSWD>secret<COUNT>4<MODS>0")
	require.Len(t, cmds, 4)
	assert.Equal(t, TagNew, cmds[0].Tag)
	assert.Equal(t, "myroom", cmds[0].Value)
	assert.Equal(t, "secret", cmds[1].Value)
	assert.Equal(t, "4", cmds[2].Value)
	assert.Equal(t, "0", cmds[3].Value)
}

func TestTokenizeUnknownTagStaysLiteral(t *testing.T) {
	cmds := Tokenize("<MSG>look at this <b>bold</b> text")
	require.Len(t, cmds, 1)
	assert.Equal(t, "look at this <b>bold</b> text", cmds[0].Value)
}

func TestTokenizeLeadingGarbageDropped(t *testing.T) {
	cmds := Tokenize("junk<LEAVE>room")
	require.Len(t, cmds, 1)
	assert.Equal(t, TagLeave, cmds[0].Tag)
	assert.Equal(t, "room", cmds[0].Value)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("no tags here"))
}

func TestReply(t *testing.T) {
	assert.Equal(t, ":>>ERROR:boom", Reply(ReplyError, "boom"))
	assert.Equal(t, ":>>SESSIONS:0", Reply(ReplySessions, "0"))
	assert.Equal(t, ":>>STATUS:2:alice:True:bob:False",
		Reply(ReplyStatus, "2", "alice", "True", "bob", "False"))
}

func TestParseHandshakeLobby(t *testing.T) {
	payload := append([]byte{4, 0}, []byte("<GREETINGS>alice<VER>1.4")...)
	hs, err := ParseHandshake(payload, 1, 4)
	require.NoError(t, err)

	assert.Equal(t, RoleLobby, hs.Role)
	assert.Equal(t, 4, hs.Version)
	assert.Equal(t, "utf-8", hs.Encoding)
	assert.Equal(t, "<GREETINGS>alice<VER>1.4", string(hs.First))
}

func TestParseHandshakeEncodingName(t *testing.T) {
	enc := "windows-1251"
	payload := []byte{2, byte(len(enc))}
	payload = append(payload, enc...)
	payload = append(payload, "<GREETINGS>ivan"...)

	hs, err := ParseHandshake(payload, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "windows-1251", hs.Encoding)
	assert.Equal(t, "<GREETINGS>ivan", string(hs.First))
}

func TestParseHandshakeVersionOutOfRange(t *testing.T) {
	_, err := ParseHandshake([]byte{9, 0}, 1, 4)
	assert.Error(t, err)

	_, err = ParseHandshake([]byte{0, 0}, 1, 4)
	assert.Error(t, err)
}

func TestParseHandshakeTruncated(t *testing.T) {
	_, err := ParseHandshake([]byte{}, 1, 4)
	assert.Error(t, err)

	_, err = ParseHandshake([]byte{3}, 1, 4)
	assert.Error(t, err)

	_, err = ParseHandshake([]byte{3, 10, 'u', 't', 'f'}, 1, 4)
	assert.Error(t, err)
}

func TestParseHandshakePipe(t *testing.T) {
	payload := []byte("Aiya!(client)c9bf9e57-1685-4c89-bafb-ff5af830be8a")
	hs, err := ParseHandshake(payload, 1, 4)
	require.NoError(t, err)

	assert.Equal(t, RolePipe, hs.Role)
	assert.Equal(t, AppClient, hs.AppType)
	assert.Equal(t, "c9bf9e57-1685-4c89-bafb-ff5af830be8a", hs.SessionUUID)
}

func TestParseHandshakePipeServerSide(t *testing.T) {
	payload := []byte("Aiya!(server)c9bf9e57-1685-4c89-bafb-ff5af830be8a")
	hs, err := ParseHandshake(payload, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, AppServer, hs.AppType)
}

func TestParseHandshakePipeMissingUUID(t *testing.T) {
	_, err := ParseHandshake([]byte("Aiya!(client)not-a-uuid"), 1, 4)
	assert.Error(t, err)
}

func TestResolveEncoding(t *testing.T) {
	utf8 := ResolveEncoding("utf-8")
	cp1251 := ResolveEncoding("windows-1251")
	fallback := ResolveEncoding("no-such-charset")

	assert.NotNil(t, utf8)
	assert.NotNil(t, cp1251)
	assert.Equal(t, utf8, fallback)

	// Round-trip a Cyrillic string through the negotiated decoder.
	encoded, err := cp1251.NewEncoder().Bytes([]byte("привет"))
	require.NoError(t, err)
	decoded, err := cp1251.NewDecoder().Bytes(encoded)
	require.NoError(t, err)
	assert.Equal(t, "привет", string(decoded))
}
