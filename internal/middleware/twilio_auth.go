package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/gofiber/fiber/v2"
)

// RejectionRecorder receives the From/Body/MessageSid of a rejected webhook
// so the attempt can be audit-logged. May be nil.
type RejectionRecorder func(from, body, messageSID string)

// ValidateTwilioSignature verifies that an inbound webhook genuinely
// originates from Twilio. It fails closed: missing header, missing secret or
// any mismatch rejects the request before the handler can touch state.
func ValidateTwilioSignature(onReject RejectionRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Twilio-Signature")
		if signature == "" {
			recordRejection(c, onReject)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Missing Twilio signature",
			})
		}

		authToken := os.Getenv("TWILIO_AUTH_TOKEN")
		if authToken == "" {
			// Log server-side, reject without detail.
			log.Println("ERROR: TWILIO_AUTH_TOKEN not set - rejecting webhook")
			recordRejection(c, onReject)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}

		fullURL := getFullURL(c)

		formParams := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			formParams[string(key)] = string(value)
		})

		expected := ComputeSignature(authToken, fullURL, formParams)

		if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
			recordRejection(c, onReject)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}

		return c.Next()
	}
}

func recordRejection(c *fiber.Ctx, onReject RejectionRecorder) {
	if onReject == nil {
		return
	}
	args := c.Request().PostArgs()
	onReject(string(args.Peek("From")), string(args.Peek("Body")), string(args.Peek("MessageSid")))
}

// getFullURL constructs the full URL for the request
func getFullURL(c *fiber.Ctx) string {
	protocol := "https"
	if c.Protocol() == "http" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.Hostname(), c.Path())
}

// ComputeSignature implements the Twilio request signing scheme: the full
// request URL concatenated with every POST parameter name and value, sorted
// lexicographically by name, HMAC-SHA1 over the result with the auth token,
// base64-encoded. Pure function so it can be tested and fuzzed without HTTP.
func ComputeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := url
	for _, k := range keys {
		data += k + params[k]
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
