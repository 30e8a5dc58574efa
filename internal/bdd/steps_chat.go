package bdd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/chirino/threadflow/internal/testutil/fakeprovider"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &chatSteps{s: s}
		ctx.Step(`^I send the chat message "([^"]*)"$`, c.iSendTheChatMessage)
		ctx.Step(`^I send the chat message "([^"]*)" to conversation "([^"]*)"$`, c.iSendTheChatMessageToConversation)
		ctx.Step(`^I branch conversation "([^"]*)" at message "([^"]*)"$`, c.iBranchConversationAtMessage)
		ctx.Step(`^the model provider replies "([^"]*)"$`, c.theModelProviderReplies)
		ctx.Step(`^the model provider fails with status (\d+)$`, c.theModelProviderFailsWithStatus)
		ctx.Step(`^the model provider times out$`, c.theModelProviderTimesOut)
		ctx.Step(`^the model provider recovers$`, c.theModelProviderRecovers)
		ctx.Step(`^the model provider is not configured$`, c.theModelProviderIsNotConfigured)
		ctx.Step(`^the model provider should have received (\d+) messages?$`, c.theModelProviderShouldHaveReceivedMessages)
		ctx.Step(`^conversation "([^"]*)" should have (\d+) messages? in the database$`, c.conversationShouldHaveMessagesInTheDatabase)
	})
}

type chatSteps struct {
	s *cucumber.TestScenario
}

func (c *chatSteps) iSendTheChatMessage(message string) error {
	return c.send(map[string]any{"message": message})
}

func (c *chatSteps) iSendTheChatMessageToConversation(message, conversationID string) error {
	expanded, err := c.s.Expand(conversationID)
	if err != nil {
		return err
	}
	return c.send(map[string]any{"message": message, "conversationId": expanded})
}

// send posts to /chat and, on success, stores the returned IDs as
// ${conversationId}, ${userMessageId} and ${assistantMessageId}.
func (c *chatSteps) send(body map[string]any) error {
	if err := c.s.Do(http.MethodPost, "/chat", body); err != nil {
		return err
	}
	session := c.s.Session()
	if session.Resp == nil || session.Resp.StatusCode != http.StatusOK {
		return nil
	}
	respJSON, err := session.RespJSON()
	if err != nil {
		return err
	}
	m, ok := respJSON.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected chat response: %s", string(session.RespBytes))
	}
	for _, key := range []string{"conversationId", "userMessageId", "assistantMessageId"} {
		if v, ok := m[key].(string); ok {
			c.s.Variables[key] = v
		}
	}
	return nil
}

func (c *chatSteps) iBranchConversationAtMessage(conversationID, messageID string) error {
	convID, err := c.s.Expand(conversationID)
	if err != nil {
		return err
	}
	msgID, err := c.s.Expand(messageID)
	if err != nil {
		return err
	}
	body := map[string]string{"messageId": msgID}
	if err := c.s.Do(http.MethodPost, "/conversations/"+convID+"/branch", body); err != nil {
		return err
	}
	session := c.s.Session()
	if session.Resp != nil && session.Resp.StatusCode == http.StatusCreated {
		respJSON, err := session.RespJSON()
		if err != nil {
			return err
		}
		if m, ok := respJSON.(map[string]interface{}); ok {
			if id, ok := m["id"].(string); ok {
				c.s.Variables["branchId"] = id
			}
		}
	}
	return nil
}

func (c *chatSteps) theModelProviderReplies(text string) error {
	Provider.Reply(func(context.Context, []model.Message) (string, error) {
		return text, nil
	})
	return nil
}

func (c *chatSteps) theModelProviderFailsWithStatus(status int) error {
	Provider.Reply(func(context.Context, []model.Message) (string, error) {
		return "", &registryprovider.Error{Provider: fakeprovider.Name, Status: status, Message: "upstream failure"}
	})
	return nil
}

func (c *chatSteps) theModelProviderTimesOut() error {
	Provider.Reply(func(ctx context.Context, _ []model.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	return nil
}

func (c *chatSteps) theModelProviderRecovers() error {
	Provider.Reply(nil)
	return nil
}

func (c *chatSteps) theModelProviderIsNotConfigured() error {
	Provider.SetAvailable(false)
	return nil
}

func (c *chatSteps) theModelProviderShouldHaveReceivedMessages(count int) error {
	calls := Provider.Calls()
	if len(calls) == 0 {
		return fmt.Errorf("the model provider was never called")
	}
	last := calls[len(calls)-1]
	if len(last) != count {
		return fmt.Errorf("expected the last transcript to hold %d messages, got %d", count, len(last))
	}
	return nil
}

func (c *chatSteps) conversationShouldHaveMessagesInTheDatabase(conversationID string, count int) error {
	if c.s.Suite.DB == nil {
		return nil
	}
	expanded, err := c.s.Expand(conversationID)
	if err != nil {
		return err
	}
	actual, err := c.s.Suite.DB.MessageCount(context.Background(), expanded)
	if err != nil {
		return err
	}
	if actual != count {
		return fmt.Errorf("conversation %s: expected %d stored messages, got %d", expanded, count, actual)
	}
	return nil
}
