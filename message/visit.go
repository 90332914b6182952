// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

// Visitor receives exactly one call per Visit, for the variant the
// message carries. Adding a variant to the package adds a method here,
// so every dispatch site fails to compile until it handles it.
type Visitor interface {
	VisitText(Message, Text)
	VisitAsset(Message, Asset)
	VisitComposite(Message, Composite)
	VisitButtonAction(Message, ButtonAction)
	VisitButtonActionConfirmation(Message, ButtonActionConfirmation)
	VisitKnock(Message, Knock)
	VisitLocation(Message, Location)
	VisitDeleted(Message, Deleted)
	VisitReaction(Message, Reaction)
	VisitTextEdited(Message, TextEdited)
	VisitCompositeEdited(Message, CompositeEdited)
	VisitReceipt(Message, Receipt)
	VisitInCallEmoji(Message, InCallEmoji)
	VisitInCallHandRaise(Message, InCallHandRaise)
	VisitUnknown(Message, Unknown)
}

// Visit dispatches the message's content to the matching Visitor
// method. Exhaustive over the sealed variant set.
func (m Message) Visit(v Visitor) {
	switch c := m.Content.(type) {
	case Text:
		v.VisitText(m, c)
	case Asset:
		v.VisitAsset(m, c)
	case Composite:
		v.VisitComposite(m, c)
	case ButtonAction:
		v.VisitButtonAction(m, c)
	case ButtonActionConfirmation:
		v.VisitButtonActionConfirmation(m, c)
	case Knock:
		v.VisitKnock(m, c)
	case Location:
		v.VisitLocation(m, c)
	case Deleted:
		v.VisitDeleted(m, c)
	case Reaction:
		v.VisitReaction(m, c)
	case TextEdited:
		v.VisitTextEdited(m, c)
	case CompositeEdited:
		v.VisitCompositeEdited(m, c)
	case Receipt:
		v.VisitReceipt(m, c)
	case InCallEmoji:
		v.VisitInCallEmoji(m, c)
	case InCallHandRaise:
		v.VisitInCallHandRaise(m, c)
	case Unknown:
		v.VisitUnknown(m, c)
	}
}
