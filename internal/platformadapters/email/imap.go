package email

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// imapConn is a minimal, blocking IMAP4rev1 client: one tagged command in
// flight at a time over a single TLS connection, sufficient for the
// read-only envelope-scan/fetch cycle this adapter needs. It deliberately
// does not implement IDLE, MIME multipart, or any write commands.
type imapConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	tagSeq  int
	mailbox string
}

func dial(host string, port int, user, pass, mailbox string) (*imapConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	raw.SetDeadline(time.Now().Add(15 * time.Second))

	c := &imapConn{
		conn:   raw,
		reader: bufio.NewReader(raw),
		writer: bufio.NewWriter(raw),
	}

	if _, err := c.reader.ReadString('\n'); err != nil { // server greeting
		raw.Close()
		return nil, fmt.Errorf("reading greeting: %w", err)
	}

	loginCmd := fmt.Sprintf("LOGIN %s %s", quoteIMAP(user), quoteIMAP(pass))
	if _, err := c.command(loginCmd); err != nil {
		raw.Close()
		return nil, fmt.Errorf("login: %w", err)
	}

	selectCmd := fmt.Sprintf("SELECT %s", quoteIMAP(mailbox))
	if _, err := c.command(selectCmd); err != nil {
		raw.Close()
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	c.mailbox = mailbox

	raw.SetDeadline(time.Time{})
	return c, nil
}

func (c *imapConn) close() error {
	c.command("LOGOUT")
	return c.conn.Close()
}

func (c *imapConn) nextTag() string {
	c.tagSeq++
	return fmt.Sprintf("a%04d", c.tagSeq)
}

// command sends one tagged command and returns every untagged response line
// up to (not including) the final tagged completion line. A non-OK
// completion is returned as an error.
func (c *imapConn) command(cmd string) ([]string, error) {
	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	tag := c.nextTag()
	if _, err := c.writer.WriteString(tag + " " + cmd + "\r\n"); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, tag+" ") {
			rest := strings.TrimPrefix(line, tag+" ")
			if strings.HasPrefix(rest, "OK") {
				return lines, nil
			}
			return lines, fmt.Errorf("server rejected command: %s", rest)
		}
		lines = append(lines, line)
	}
}

// searchUIDsAfter returns every UID strictly greater than after, oldest
// first, in the currently selected mailbox.
func (c *imapConn) searchUIDsAfter(after uint32) ([]uint32, error) {
	rangeExpr := "1:*"
	if after > 0 {
		rangeExpr = fmt.Sprintf("%d:*", after+1)
	}
	lines, err := c.command(fmt.Sprintf("UID SEARCH %s", rangeExpr))
	if err != nil {
		return nil, err
	}

	var uids []uint32
	for _, line := range lines {
		if !strings.HasPrefix(line, "* SEARCH") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "* SEARCH"))
		for _, f := range fields {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				continue
			}
			if uint32(n) > after {
				uids = append(uids, uint32(n))
			}
		}
	}
	return uids, nil
}

type envelopeInfo struct {
	messageID string
}

// fetchEnvelopes retrieves just the ENVELOPE (for Message-ID dedup) of a
// batch of UIDs using IMAP range syntax. Some servers reject a
// comma-joined non-contiguous UID set; callers fall back to
// fetchEnvelopesOneByOne on error.
func (c *imapConn) fetchEnvelopes(uids []uint32) (map[uint32]envelopeInfo, error) {
	set := uidSet(uids)
	lines, err := c.command(fmt.Sprintf("UID FETCH %s (ENVELOPE)", set))
	if err != nil {
		return nil, err
	}
	return parseEnvelopeLines(lines), nil
}

func (c *imapConn) fetchEnvelopesOneByOne(uids []uint32) (map[uint32]envelopeInfo, error) {
	result := make(map[uint32]envelopeInfo, len(uids))
	for _, uid := range uids {
		lines, err := c.command(fmt.Sprintf("UID FETCH %d (ENVELOPE)", uid))
		if err != nil {
			continue
		}
		for u, env := range parseEnvelopeLines(lines) {
			result[u] = env
		}
	}
	return result, nil
}

func parseEnvelopeLines(lines []string) map[uint32]envelopeInfo {
	result := map[uint32]envelopeInfo{}
	for _, line := range lines {
		uid, ok := parseFetchUID(line)
		if !ok {
			continue
		}
		if mid := extractQuoted(line, "Message-ID"); mid != "" {
			result[uid] = envelopeInfo{messageID: mid}
		} else {
			result[uid] = envelopeInfo{}
		}
	}
	return result
}

// rfc822Message is the threading-relevant subset of one fetched message.
type rfc822Message struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	From       string
	To         []string
	Date       time.Time
	Body       string
}

// fetchFull retrieves the full RFC-822 message body for one UID and parses
// its headers with net/mail.
func (c *imapConn) fetchFull(uid uint32) (*rfc822Message, error) {
	lines, err := c.command(fmt.Sprintf("UID FETCH %d (BODY[])", uid))
	if err != nil {
		return nil, err
	}

	raw := extractLiteral(lines)
	if raw == "" {
		return nil, fmt.Errorf("empty fetch response for uid %d", uid)
	}

	m, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := m.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}

	date, _ := m.Header.Date()
	refs := splitReferences(m.Header.Get("References"))

	return &rfc822Message{
		MessageID:  strings.Trim(m.Header.Get("Message-Id"), "<>"),
		InReplyTo:  strings.Trim(m.Header.Get("In-Reply-To"), "<>"),
		References: refs,
		Subject:    m.Header.Get("Subject"),
		From:       m.Header.Get("From"),
		To:         splitAddressList(m.Header.Get("To")),
		Date:       date,
		Body:       string(body),
	}, nil
}

func splitReferences(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	refs := make([]string, 0, len(fields))
	for _, f := range fields {
		refs = append(refs, strings.Trim(f, "<>"))
	}
	return refs
}

func splitAddressList(raw string) []string {
	if raw == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return []string{raw}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func uidSet(uids []uint32) string {
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(parts, ",")
}

func quoteIMAP(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func parseFetchUID(line string) (uint32, bool) {
	idx := strings.Index(line, "UID ")
	if idx == -1 {
		return 0, false
	}
	fields := strings.Fields(line[idx+4:])
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func extractQuoted(line, field string) string {
	idx := strings.Index(line, field)
	if idx == -1 {
		return ""
	}
	rest := line[idx+len(field):]
	start := strings.Index(rest, `"`)
	if start == -1 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// extractLiteral pulls the IMAP literal payload (the {n}\r\n-prefixed
// RFC-822 body) out of a FETCH response's untagged lines. command()'s
// line-oriented reader consumes literals inline via ReadString, so they
// arrive as ordinary lines; this reassembles everything after the FETCH
// header line.
func extractLiteral(lines []string) string {
	start := -1
	for i, l := range lines {
		if strings.Contains(l, "FETCH") && strings.Contains(l, "BODY[]") {
			start = i + 1
			break
		}
	}
	if start == -1 || start >= len(lines) {
		return ""
	}
	return strings.Join(lines[start:], "\r\n")
}
