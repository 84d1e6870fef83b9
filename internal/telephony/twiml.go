package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// ConnectStreamTwiML builds the markup response that tells the provider to
// open the media-stream socket back at us.
func ConnectStreamTwiML(wsURL, to, from string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url=%q>
            <Parameter name="To" value=%q />
            <Parameter name="From" value=%q />
        </Stream>
    </Connect>
</Response>`, wsURL, to, from)
}

// ApologyTwiML speaks an apology and hangs up. Used when no agent
// configuration can be resolved for the dialed number.
func ApologyTwiML(message string) string {
	if message == "" {
		message = "We are sorry, but we cannot take your call right now. Please try again later."
	}
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(message))
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say>%s</Say>
    <Hangup/>
</Response>`, buf.String())
}
