// Package bounce builds RFC 3462 multipart/report failure notices for
// messages the dispatcher could not deliver, per SPEC_FULL.md §4.12.
package bounce

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/infodancer/mailserv/internal/spool"
)

// Reason names why a recipient could not be delivered to. It is produced
// by the dispatcher (local delivery, MX resolution) and the remote SMTP
// client, and maps to an RFC 3463 enhanced status code below.
type Reason string

const (
	ReasonMailboxNotFound  Reason = "mailbox-not-found"
	ReasonHostNotFound     Reason = "host-not-found"
	ReasonCouldNotConnect  Reason = "could-not-connect"
	ReasonRejectedMailFrom Reason = "rejected-mail-from"
	ReasonUnknown          Reason = "unknown"
)

// statusCode maps a Reason to the RFC 3463 enhanced status code recorded
// in the message/delivery-status part.
func statusCode(r Reason) string {
	switch r {
	case ReasonMailboxNotFound:
		return "5.1.1"
	case ReasonHostNotFound:
		return "5.1.2"
	case ReasonCouldNotConnect:
		return "4.4.1"
	case ReasonRejectedMailFrom:
		return "5.1.0"
	default:
		return "5.0.0"
	}
}

// Failure describes one recipient that a dispatch attempt could not
// deliver to.
type Failure struct {
	Recipient spool.Address
	Reason    Reason
	Detail    string
}

// Context supplies everything needed to build a bounce for one
// original message.
type Context struct {
	Hostname        string
	OriginalSender  spool.Address
	Failures        []Failure
	OriginalHeader  spool.Header
	OriginalPayload io.Reader
	Now             time.Time
}

// Build renders a complete bounce message: spool header addressed back
// to the original sender, and an RFC 3462 multipart/report body as the
// payload. The returned payload is CRLF-formatted and ready to hand to
// spool.WriteMessage or spool.Writer directly.
func Build(ctx Context) (spool.Header, []byte, error) {
	if ctx.OriginalSender.String() == "@" {
		return spool.Header{}, nil, fmt.Errorf("bounce: original sender is empty, refusing to bounce a bounce")
	}
	if len(ctx.Failures) == 0 {
		return spool.Header{}, nil, fmt.Errorf("bounce: no failures to report")
	}

	// The envelope sender is the null reverse path, not a Postmaster
	// mailbox: this is what lets generateBounce recognize and suppress
	// a second-order bounce when this message's own delivery fails.
	// The human-readable From: line still identifies a Postmaster.
	displayFrom := spool.Address{Local: "Postmaster", Domain: ctx.Hostname}
	header := spool.Header{
		Sender:     spool.Address{},
		Recipients: []spool.Address{ctx.OriginalSender},
	}

	boundary := "bounce-" + uuid.New().String()
	var buf bytes.Buffer

	writeLine(&buf, "From: Mail Delivery Subsystem <%s>", displayFrom.String())
	writeLine(&buf, "To: %s", ctx.OriginalSender.String())
	writeLine(&buf, "Subject: Undelivered Mail Returned to Sender")
	writeLine(&buf, "Date: %s", ctx.Now.Format(time.RFC1123Z))
	writeLine(&buf, "MIME-Version: 1.0")
	writeLine(&buf, "Content-Type: multipart/report; report-type=delivery-status;")
	writeLine(&buf, "\tboundary=\"%s\"", boundary)
	writeLine(&buf, "")

	writeLine(&buf, "This is a MIME-encapsulated message.")
	writeLine(&buf, "")
	writeLine(&buf, "--%s", boundary)
	writeLine(&buf, "Content-Type: text/plain; charset=us-ascii")
	writeLine(&buf, "")
	writeLine(&buf, "The following message could not be delivered to one or more recipients:")
	writeLine(&buf, "")
	for _, f := range ctx.Failures {
		writeLine(&buf, "  %s: %s (%s)", f.Recipient.String(), f.Reason, f.Detail)
	}
	writeLine(&buf, "")

	writeLine(&buf, "--%s", boundary)
	writeLine(&buf, "Content-Type: message/delivery-status")
	writeLine(&buf, "")
	writeLine(&buf, "Reporting-MTA: dns; %s", ctx.Hostname)
	writeLine(&buf, "")
	for _, f := range ctx.Failures {
		writeLine(&buf, "Final-Recipient: rfc822; %s", f.Recipient.String())
		writeLine(&buf, "Action: failed")
		writeLine(&buf, "Status: %s", statusCode(f.Reason))
		if f.Detail != "" {
			writeLine(&buf, "Diagnostic-Code: X-mailserv; %s", f.Detail)
		}
		writeLine(&buf, "")
	}

	writeLine(&buf, "--%s", boundary)
	writeLine(&buf, "Content-Type: message/rfc822")
	writeLine(&buf, "")
	writeHeaderLines(&buf, ctx.OriginalHeader)
	if ctx.OriginalPayload != nil {
		if _, err := io.Copy(&buf, ctx.OriginalPayload); err != nil {
			return spool.Header{}, nil, fmt.Errorf("bounce: copying original payload: %w", err)
		}
	}
	writeLine(&buf, "")
	writeLine(&buf, "--%s--", boundary)

	return header, buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, format string, args ...any) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteString("\r\n")
}

// writeHeaderLines renders a minimal RFC 822 envelope summary ahead of
// the original payload, since the spool format itself stores envelope
// information separately from the message body.
func writeHeaderLines(buf *bytes.Buffer, header spool.Header) {
	writeLine(buf, "X-Original-Sender: %s", header.Sender.String())
	recipients := make([]string, 0, len(header.Recipients))
	for _, r := range header.Recipients {
		recipients = append(recipients, r.String())
	}
	writeLine(buf, "X-Original-Recipients: %s", strings.Join(recipients, ", "))
}
