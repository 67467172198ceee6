package entity

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// maxURLLength defines the maximum allowed length for media URLs.
	maxURLLength = 2048

	// MaxRecipients is the largest recipient list one request may carry.
	MaxRecipients = 100

	// MaxSMSLength is the longest body Twilio accepts for a single message.
	MaxSMSLength = 1600
)

// ValidateURL validates the format of a media URL handed to a provider.
// It checks that the URL is well-formed, uses HTTP/HTTPS scheme, and has a valid host.
// Literal private IP hosts are rejected because providers cannot fetch them.
func ValidateURL(field, rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: field, Message: "URL is required"}
	}

	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("url must not exceed %d characters", maxURLLength),
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: field, Message: "URL is malformed"}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: field, Message: "URL must use http or https scheme"}
	}

	if parsedURL.Host == "" {
		return &ValidationError{Field: field, Message: "URL must have a valid host"}
	}

	if ip := net.ParseIP(parsedURL.Hostname()); ip != nil && isPrivateIP(ip) {
		return &ValidationError{Field: field, Message: "url cannot point to private network"}
	}

	return nil
}

// isPrivateIP checks if an IP address is loopback, link-local or RFC 1918.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}

// ValidateSendRequest checks a send request against the rules of the target
// channel. It returns nil or a ValidationErrors listing every failure.
func ValidateSendRequest(ch Channel, req *SendRequest) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if len(req.Recipients) == 0 {
		add("recipientList", "Empty recipient list")
	} else if len(req.Recipients) > MaxRecipients {
		add("recipientList", fmt.Sprintf("RecipientList can have max %d chatIDs", MaxRecipients))
	} else {
		for _, r := range req.Recipients {
			if strings.TrimSpace(r) == "" || strings.ContainsAny(r, ", \t\n") {
				add("recipientList", fmt.Sprintf("Invalid recipient %q", r))
				break
			}
		}
	}

	if len(req.MediaKinds) == 0 {
		add("mediaTypeList", "Empty media type list")
	}

	for _, kind := range req.MediaKinds {
		switch kind {
		case MediaText:
			if strings.TrimSpace(req.TextMessage) == "" {
				add("textMessage", "Empty text message payload")
			}
		case MediaImage:
			if req.ImageURL == "" {
				add("imageUrl", "Empty image url")
			} else if err := ValidateURL("imageUrl", req.ImageURL); err != nil {
				errs = append(errs, err.(*ValidationError))
			}
			if strings.TrimSpace(req.ImageCaption) == "" {
				add("imageCaption", "Empty image caption")
			}
		case MediaVideo:
			if req.VideoURL == "" {
				add("videoUrl", "Empty video url")
			} else if err := ValidateURL("videoUrl", req.VideoURL); err != nil {
				errs = append(errs, err.(*ValidationError))
			}
			if strings.TrimSpace(req.VideoCaption) == "" {
				add("videoCaption", "Empty video caption")
			}
		default:
			add("mediaTypeList", fmt.Sprintf("Unsupported media type %q", kind))
		}
	}

	if ch == ChannelSMS {
		for _, kind := range req.MediaKinds {
			if kind != MediaText {
				add("mediaTypeList", "SMS supports TEXT only")
				break
			}
		}
		if utf8.RuneCountInString(req.TextMessage) > MaxSMSLength {
			add("textMessage", fmt.Sprintf("SMS text must not exceed %d characters", MaxSMSLength))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
