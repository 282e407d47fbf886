package models

// User is the read-only view of an account owned by the user service.
type User struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"fullname" json:"displayName"`
	Email       string `bson:"email" json:"email"`
}

// Book is the catalog view this service needs to assemble order items.
type Book struct {
	ID       string  `bson:"_id" json:"id"`
	Title    string  `bson:"title" json:"title"`
	Price    float64 `bson:"price" json:"price"`
	FileRef  string  `bson:"fileRef" json:"fileRef"`
	CoverRef string  `bson:"coverRef" json:"coverRef"`
}
