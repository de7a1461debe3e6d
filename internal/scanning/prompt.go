package scanning

// TravelPrompt is the shared prompt used by all providers for travel documents
const TravelPrompt = `You are analyzing a travel document: a ticket, boarding pass, booking confirmation, itinerary, or receipt. A single file may contain more than one document (for example a PDF with an outbound and a return flight, or several tickets). Carefully read all text and describe every document you find.

For each document extract:

1. **title**: A short descriptive title. Examples: "Flight to Mumbai", "Hotel Booking - Taj", "Louvre Museum Tickets".

2. **date**: The most relevant date and time in ISO 8601 format (YYYY-MM-DDTHH:MM:SS). Use the departure time for transport, the check-in time for stays, the start time for activities, and the transaction time for receipts. If only a date is visible, return YYYY-MM-DD. If no date is visible, return null.

3. **category**: Exactly one of: Transport, Stay, Activity, Receipt, Other.

4. **subCategory**: A more specific kind, for example Flight, Train, Bus, Hotel, Hostel, Concert, Museum, Restaurant. Use null if unsure.

5. **owners**: The names of the people this document belongs to (passengers, guests, customers) as an array of strings in title case, without titles like Mr/Mrs/Ms. Use null if no name is visible.

Return ONLY valid JSON. Return a single object when the file holds one document, or an array of objects when it holds several:
{
  "title": "Flight to Mumbai",
  "date": "2024-03-01T06:45:00",
  "category": "Transport",
  "subCategory": "Flight",
  "owners": ["Arvind P"]
}

Important:
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// IdentityPrompt is the shared prompt used by all providers for identity documents
const IdentityPrompt = `You are analyzing an identity or credential document. Carefully read all text and extract the following fields:

1. **title**: A descriptive title. Examples: "Indian Passport", "US Visa", "Aadhaar Card", "Driver License".

2. **type**: Exactly one of: Passport, Visa, Aadhaar, Driver License, PAN Card, Other.

3. **documentNumber**: The document or ID number (passport number, visa number, license number). Use null if not found.

4. **issueDate**: The issue or valid-from date in ISO 8601 format (YYYY-MM-DD). Use null if not found.

5. **expiryDate**: The expiry or valid-until date in ISO 8601 format (YYYY-MM-DD). Use null if not found or if the document does not expire.

6. **owner**: The name of the person this document belongs to, in title case, without titles like Mr/Mrs/Ms. Use null if not found.

Return ONLY a single valid JSON object (not an array):
{
  "title": "Indian Passport",
  "type": "Passport",
  "documentNumber": "K1234567",
  "issueDate": "2019-05-14",
  "expiryDate": "2029-05-13",
  "owner": "Arvind P"
}

Important:
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
