// Copyright 2024 Shop Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classifier

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Score weights for the rule engine
const (
	StructuredKeywordWeight = 0.4
	SemanticKeywordWeight   = 0.4
	ProductHintWeight       = 0.3
	MinRouteScore           = 0.3
)

// KeywordClassifier is a rule engine that routes without a model call. It
// backs the "rules" router mode and offline use.
type KeywordClassifier struct {
	greetings          []string
	smallTalkPhrases   []string
	orderPhrases       []string
	specificReferences []string
	structuredKeywords []string
	semanticKeywords   []string
	productHints       []string
}

// NewKeywordClassifier creates a new instance of KeywordClassifier
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		greetings: greetingPhrases,
		smallTalkPhrases: []string{
			"who am i", "what is my name", "what's my name", "do you remember my name",
			"my name is", "thank you", "thanks", "who are you", "how are you", "bye", "goodbye",
		},
		orderPhrases: []string{
			"i want to buy", "i'd like to buy", "i would like to buy", "i want to order",
			"i'd like to order", "place an order", "order it", "order this", "order that",
			"buy it", "buy this", "buy that", "i'll take", "i will take", "add to cart",
			"to my cart", "i want to purchase", "purchase it", "purchase the", "checkout",
		},
		specificReferences: []string{
			"it", "this", "that", "the", "first one", "second one", "last one", "that one", "this one",
		},
		structuredKeywords: []string{
			"price", "cost", "how much", "rs.", "rupees", "available", "availability", "in stock",
			"stock", "do you sell", "do you have", "what do you sell", "show me", "list", "options",
			"cheapest", "model", "specs", "specification", "looking for", "category", "brand",
		},
		semanticKeywords: []string{
			"service", "services", "contact", "support", "hotline", "email", "address",
			"process", "apply", "procedure", "policy", "warranty", "return", "refund",
			"delivery", "shipping", "facebook", "instagram", "youtube", "social", "branch",
			"opening hours", "package", "connection", "about the company", "who owns",
		},
		productHints: []string{
			"router", "camera", "phone", "laptop", "tablet", "tv", "speaker", "headphone",
			"earbuds", "watch", "modem", "extender", "charger", "cable", "dongle",
		},
	}
}

// greetingPhrases are complete utterances that only greet
var greetingPhrases = []string{
	"hi", "hello", "hey", "hiya", "howdy", "greetings", "good morning", "good afternoon",
	"good evening", "hello there", "hi there", "hey there", "ayubowan",
}

// IsGreeting reports whether the whole utterance is a bare greeting
func IsGreeting(text string) bool {
	normalized := normalize(text)
	for _, g := range greetingPhrases {
		if normalized == g {
			return true
		}
	}
	return false
}

// Classify implements Classifier
func (kc *KeywordClassifier) Classify(_ context.Context, question string) (Decision, error) {
	return kc.ClassifyQuery(question), nil
}

// ClassifyQuery analyzes a question and determines its route
func (kc *KeywordClassifier) ClassifyQuery(question string) Decision {
	query := normalize(question)

	if query == "" {
		return Decision{Route: DefaultRoute, Reasoning: "empty question"}
	}

	for _, g := range kc.greetings {
		if query == g {
			return Decision{Route: RouteSmallTalk, Reasoning: "greeting"}
		}
	}

	if phrase, ok := kc.matchOrderPhrase(query); ok {
		if kc.refersToSpecificItem(query) {
			return Decision{Route: RouteOrderIntent, Reasoning: fmt.Sprintf("order phrase %q with a specific item", phrase)}
		}
		return Decision{Route: RouteStructured, Reasoning: "order phrase without a specific item, show options"}
	}

	for _, phrase := range kc.smallTalkPhrases {
		if strings.Contains(query, phrase) && !kc.mentionsProduct(query) {
			return Decision{Route: RouteSmallTalk, Reasoning: fmt.Sprintf("small talk phrase %q", phrase)}
		}
	}

	structuredScore := kc.calculateScore(query, kc.structuredKeywords, StructuredKeywordWeight)
	semanticScore := kc.calculateScore(query, kc.semanticKeywords, SemanticKeywordWeight)
	if kc.mentionsProduct(query) {
		structuredScore += ProductHintWeight
	}

	switch {
	case structuredScore >= MinRouteScore && structuredScore > semanticScore:
		return Decision{Route: RouteStructured, Reasoning: fmt.Sprintf("product lookup score %.2f", structuredScore)}
	case semanticScore >= MinRouteScore:
		return Decision{Route: RouteSemantic, Reasoning: fmt.Sprintf("company information score %.2f", semanticScore)}
	default:
		return Decision{Route: DefaultRoute, Reasoning: "no strong signal, broad informational lookup"}
	}
}

// calculateScore returns a 0-1 score from keyword matches
func (kc *KeywordClassifier) calculateScore(query string, keywords []string, weight float64) float64 {
	score := 0.0
	for _, keyword := range keywords {
		if strings.Contains(query, keyword) {
			score += weight
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (kc *KeywordClassifier) matchOrderPhrase(query string) (string, bool) {
	for _, phrase := range kc.orderPhrases {
		if strings.Contains(query, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// refersToSpecificItem reports whether an order utterance points at one item:
// a deictic reference, a definite article or a model-number-like token
func (kc *KeywordClassifier) refersToSpecificItem(query string) bool {
	for _, ref := range kc.specificReferences {
		if strings.Contains(" "+query+" ", " "+ref+" ") {
			return true
		}
	}
	for _, word := range strings.Fields(query) {
		if hasLetterAndDigit(word) {
			return true
		}
	}
	return false
}

func (kc *KeywordClassifier) mentionsProduct(query string) bool {
	for _, hint := range kc.productHints {
		if strings.Contains(query, hint) {
			return true
		}
	}
	return false
}

func hasLetterAndDigit(word string) bool {
	var letter, digit bool
	for _, r := range word {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// normalize lowercases, drops trailing punctuation and collapses whitespace
func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimRight(text, "!?.,;: ")
	return strings.Join(strings.Fields(text), " ")
}
