package bdd

import (
	"fmt"
	"net/http"

	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &conversationSteps{s: s}
		ctx.Step(`^there is a conversation owned by "([^"]*)"$`, c.thereIsAConversationOwnedBy)
		ctx.Step(`^I list conversations$`, c.iListConversations)
		ctx.Step(`^I list conversations of owner "([^"]*)"$`, c.iListConversationsOfOwner)
		ctx.Step(`^I get conversation "([^"]*)"$`, c.iGetConversation)
		ctx.Step(`^I list branches of conversation "([^"]*)"$`, c.iListBranchesOfConversation)
		ctx.Step(`^I list branches of conversation "([^"]*)" at message "([^"]*)"$`, c.iListBranchesOfConversationAtMessage)
	})
}

type conversationSteps struct {
	s *cucumber.TestScenario
}

// thereIsAConversationOwnedBy starts a conversation as ownerID and leaves the
// current user unchanged.
func (c *conversationSteps) thereIsAConversationOwnedBy(ownerID string) error {
	savedUser := c.s.CurrentUser
	defer func() { c.s.CurrentUser = savedUser }()

	c.s.SwitchUser(ownerID)
	chat := &chatSteps{s: c.s}
	if err := chat.iSendTheChatMessage("Conversation of " + ownerID); err != nil {
		return err
	}
	session := c.s.Session()
	if session.Resp == nil || session.Resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not create a conversation for %s: %s", ownerID, string(session.RespBytes))
	}
	c.s.Variables["conversationOwner"] = ownerID
	return nil
}

func (c *conversationSteps) iListConversations() error {
	return c.get("/conversations")
}

func (c *conversationSteps) iListConversationsOfOwner(owner string) error {
	expanded, err := c.s.Expand(owner)
	if err != nil {
		return err
	}
	return c.get("/conversations?owner=" + expanded)
}

func (c *conversationSteps) iGetConversation(id string) error {
	expanded, err := c.s.Expand(id)
	if err != nil {
		return err
	}
	return c.get("/conversations/" + expanded)
}

func (c *conversationSteps) iListBranchesOfConversation(id string) error {
	expanded, err := c.s.Expand(id)
	if err != nil {
		return err
	}
	return c.get("/conversations/" + expanded + "/branches")
}

func (c *conversationSteps) iListBranchesOfConversationAtMessage(id, messageID string) error {
	expandedID, err := c.s.Expand(id)
	if err != nil {
		return err
	}
	expandedMsg, err := c.s.Expand(messageID)
	if err != nil {
		return err
	}
	return c.get("/conversations/" + expandedID + "/branches?messageId=" + expandedMsg)
}

func (c *conversationSteps) get(path string) error {
	return c.s.Do(http.MethodGet, path, nil)
}
