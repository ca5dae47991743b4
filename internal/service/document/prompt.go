package document

import (
	"fmt"
	"time"
)

const ocrInstruction = "Transcribe all text in this receipt or payment screenshot exactly as shown, line by line, including amounts, dates and merchant names. Output only the transcribed text."

const extractionTemplate = `You are a bookkeeping assistant. Read the text below (an OCR transcription of a receipt or payment screenshot, or a note typed by the user) and extract ONE transaction.

Reply with a single JSON object and nothing else, with exactly these five fields:
{"amount": number, "date": "YYYY-MM-DD", "category": string, "description": string, "type": "expense" | "income"}

Rules:
- amount is the actual amount paid or received, as a positive number without currency symbols.
- Ignore account balances, available credit, discounts, coupons and points; they are not the transaction amount.
- When several amounts appear, prefer the largest or most prominent one (the one shown as the total or in the center of the screen).
- Withdrawal, payment, purchase and transfer-out wording means "expense"; salary, refund and transfer-in wording means "income".
- If the text shows no year, or no date at all, use today's date: %s.
- category is one short lowercase English word such as food, transport, shopping, entertainment, utilities, software, insurance, salary or other.
- description is a short merchant or purpose summary in the language of the text.
- If there is no amount in the text, set amount to 0.`

func extractionPrompt(now time.Time) string {
	return fmt.Sprintf(extractionTemplate, now.Format(dateLayout))
}

func clarificationInput(rawText, note string) string {
	return rawText + "\n\nUser clarification: " + note
}
