package browser

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"social-outreach/internal/session"
)

// Selector fallback lists for the login and messaging flows. The page markup
// varies between account cohorts, so each logical control has several
// candidates tried in order.
var (
	loginFieldSelectors = []string{
		`input[name="st.email"]`,
		`#field_email`,
		`input[data-l='t,email']`,
		`input.form-text[type='text']`,
	}
	passwordFieldSelectors = []string{
		`input[name="st.password"]`,
		`#field_password`,
		`input[data-l='t,password']`,
		`input[type='password']`,
	}
	loginButtonSelectors = []string{
		`input[data-l='t,sign_in']`,
		`input.button-pro`,
		`button[type='submit']`,
	}
	loggedInMarker = `div[data-l='t,userPage']`

	writeButtonXPaths = []string{
		`//li[contains(@class, 'u-menu_li') and @data-l='outlandertarget,sendMessage']//a[contains(@href, '/messages/')]`,
		`//li[contains(@class, '__custom')]//a[contains(@href, '/messages/')]`,
	}
	messageInputXPaths = []string{
		`//msg-input[@data-tsid='write_msg_input']//div[@contenteditable='true']`,
		`//div[@data-tsid='write_msg_input-input']`,
		`//msg-input//div[@contenteditable='true']`,
	}
	sendButtonXPaths = []string{
		`//button[@data-tsid='button_send']`,
		`//button[@data-l='t,sendButton']`,
		`//button[contains(@class, 'primary-okmsg')]`,
		`//button[@title='Send']`,
	}
)

const selectorTimeout = 2 * time.Second

// Login signs the session in and verifies the logged-in page appeared.
func (s *browserSession) Login(ctx context.Context, login, password string) bool {
	page := s.page.Context(ctx)

	if err := page.Timeout(s.timeout).Navigate(session.BaseURL); err != nil {
		log.Printf("browser %s: navigate login page: %v", s.id, err)
		return false
	}
	if err := page.Timeout(s.timeout).WaitLoad(); err != nil {
		log.Printf("browser %s: wait login page: %v", s.id, err)
		return false
	}
	pause(2, 4)

	loginField := firstElement(page, loginFieldSelectors)
	if loginField == nil {
		log.Printf("browser %s: login field not found", s.id)
		return false
	}
	if !typeInto(page, loginField, login) {
		return false
	}
	pause(1, 2)

	passwordField := firstElement(page, passwordFieldSelectors)
	if passwordField == nil {
		log.Printf("browser %s: password field not found", s.id)
		return false
	}
	if !typeInto(page, passwordField, password) {
		return false
	}
	pause(1, 2)

	button := firstElement(page, loginButtonSelectors)
	if button == nil {
		log.Printf("browser %s: login button not found", s.id)
		return false
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Printf("browser %s: click login: %v", s.id, err)
		return false
	}
	pause(3, 5)

	// Fail closed: login counts only when the logged-in page is visible.
	if _, err := page.Timeout(s.timeout).Element(loggedInMarker); err != nil {
		log.Printf("browser %s: could not verify login", s.id)
		return false
	}
	return true
}

// Send navigates to the target profile and delivers one message.
func (s *browserSession) Send(ctx context.Context, target, text string) bool {
	page := s.page.Context(ctx)

	profileURL := session.NormalizeTarget(target)
	if err := page.Timeout(s.timeout).Navigate(profileURL); err != nil {
		log.Printf("browser %s: navigate %s: %v", s.id, profileURL, err)
		return false
	}
	if err := page.Timeout(s.timeout).WaitLoad(); err != nil {
		log.Printf("browser %s: wait profile %s: %v", s.id, profileURL, err)
		return false
	}

	writeButton := firstElementX(page, writeButtonXPaths)
	if writeButton == nil {
		log.Printf("browser %s: write button not found on %s", s.id, profileURL)
		return false
	}
	if err := writeButton.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Printf("browser %s: click write: %v", s.id, err)
		return false
	}

	input := firstElementX(page, messageInputXPaths)
	if input == nil {
		log.Printf("browser %s: message input not found on %s", s.id, profileURL)
		return false
	}
	if !typeInto(page, input, text) {
		return false
	}

	sendButton := firstElementX(page, sendButtonXPaths)
	if sendButton == nil {
		log.Printf("browser %s: send button not found on %s", s.id, profileURL)
		return false
	}
	if err := sendButton.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Printf("browser %s: click send: %v", s.id, err)
		return false
	}
	return true
}

// firstElement returns the first visible element matching any selector.
func firstElement(page *rod.Page, selectors []string) *rod.Element {
	for _, sel := range selectors {
		el, err := page.Timeout(selectorTimeout).Element(sel)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return el
		}
	}
	return nil
}

func firstElementX(page *rod.Page, xpaths []string) *rod.Element {
	for _, xp := range xpaths {
		el, err := page.Timeout(selectorTimeout).ElementX(xp)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return el
		}
	}
	return nil
}

// typeInto focuses the element and inserts text one character at a time with
// keystroke pacing.
func typeInto(page *rod.Page, el *rod.Element, text string) bool {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false
	}
	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return false
		}
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
	}
	return true
}

// pause sleeps a uniform random duration between min and max seconds.
func pause(min, max float64) {
	time.Sleep(time.Duration((min + rand.Float64()*(max-min)) * float64(time.Second)))
}
