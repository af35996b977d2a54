package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const (
	LanguageEnglish = "en"
	LanguageArabic  = "ar"
)

type languagePack struct {
	title   string
	message string // fmt verb receives the file name
}

var authorizationTexts = map[string]languagePack{
	LanguageEnglish: {
		title:   "New Document Authentication Required",
		message: "Document \"%s\" requires your authorization",
	},
	LanguageArabic: {
		title:   "مطلوب توثيق مستند جديد",
		message: "المستند \"%s\" يتطلب موافقتك",
	},
}

// authorizationText resolves the language and renders the title and body.
// Unknown or empty languages fall back to English.
func authorizationText(language, fileName string) (lang, title, message string) {
	lang = strings.ToLower(strings.TrimSpace(language))
	pack, ok := authorizationTexts[lang]
	if !ok {
		lang = LanguageEnglish
		pack = authorizationTexts[LanguageEnglish]
	}
	return lang, pack.title, fmt.Sprintf(pack.message, fileName)
}

// AuthorizationDetails echoes the identifiers of a dispatched authorization
// notification back to the caller.
type AuthorizationDetails struct {
	ReceiverID string `json:"receiverId"`
	SenderID   string `json:"senderId"`
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	Language   string `json:"language"`
}

type AuthorizationResult struct {
	Result  json.RawMessage
	Details AuthorizationDetails
}

// SendAuthorizationNotification tells the receiver that a document awaits
// their authorization.
func (g *Gateway) SendAuthorizationNotification(ctx context.Context, req notification.AuthorizationRequest) (res *AuthorizationResult, err error) {
	defer func() {
		g.record(ctx, OpSendAuthorizationNotification, err, "receiver_id", req.ReceiverID, "sender_id", req.SenderID)
	}()

	fileID := req.FileIDString()
	if req.ReceiverID == "" || req.SenderID == "" || req.FileName == "" || fileID == "" || req.AdditionalData == nil {
		return nil, dispatch.NewError(dispatch.KindInvalidInput, "missing required fields", map[string]bool{
			"receiverId":     req.ReceiverID == "",
			"senderId":       req.SenderID == "",
			"fileName":       req.FileName == "",
			"fileId":         fileID == "",
			"additionalData": req.AdditionalData == nil,
		})
	}

	owners := req.AdditionalData.OwnerDetails
	if owners == nil || owners.OwnerUser == nil || owners.AuthRequiredFromUser == nil {
		return nil, dispatch.NewError(dispatch.KindInvalidInput, "missing owner details in additionalData", nil)
	}

	device, err := g.lookup(ctx, req.ReceiverID, "receiver device not found")
	if err != nil {
		return nil, err
	}

	lang, title, message := authorizationText(req.Language, req.FileName)
	result, err := g.dispatcher.Dispatch(ctx, dispatch.Message{
		Address: device.PushToken,
		Title:   title,
		Body:    message,
		Data:    AuthorizationPayload(req.AdditionalData),
	})
	if err != nil {
		switch kind := dispatch.KindOf(err); kind {
		case dispatch.KindAuthFailed, dispatch.KindRateLimited, dispatch.KindInvalidPayload:
			return nil, &dispatch.Error{Kind: kind, Message: "failed to send notification", Err: err}
		default:
			return nil, dispatch.Wrap(dispatch.KindDispatchFailed, "failed to send notification", err)
		}
	}

	return &AuthorizationResult{
		Result: result,
		Details: AuthorizationDetails{
			ReceiverID: req.ReceiverID,
			SenderID:   req.SenderID,
			FileID:     fileID,
			FileName:   req.FileName,
			Language:   lang,
		},
	}, nil
}

// AuthorizationPayload builds the data block of an authorization
// notification. Users are reduced to their summary fields and the capability
// flags are always true, whatever the caller sent.
func AuthorizationPayload(data *notification.AuthorizationData) map[string]any {
	payload := map[string]any{
		"workflowId":  rawOrNil(data.WorkflowID),
		"fileId":      rawOrNil(data.FileID),
		"fileName":    data.FileName,
		"uniqueCode":  data.UniqueCode,
		"description": data.Description,
		"uploadDate":  data.UploadDate,
		"notes":       data.Notes,
	}
	if data.OwnerDetails != nil {
		payload["ownerDetails"] = map[string]any{
			"ownerUser":            data.OwnerDetails.OwnerUser,
			"authRequiredFromUser": data.OwnerDetails.AuthRequiredFromUser,
		}
	}
	if data.Status != nil {
		payload[dispatch.FieldStatus] = int(*data.Status)
	}
	if data.StepNumber != nil {
		payload[dispatch.FieldStepNumber] = int(*data.StepNumber)
	}
	return dispatch.MergeData(payload)
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
