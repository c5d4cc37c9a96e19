package domain

// City описывает город с перечнем кварталов.
type City struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Neighborhoods []string `json:"neighborhoods"`
}

// Cities — справочник городов Конго, доступных в приложении.
var Cities = []City{
	{
		ID:   "brazzaville",
		Name: "Brazzaville",
		Neighborhoods: []string{
			"Centre-ville", "Poto-Poto", "Bacongo", "Makélékélé", "Moungali",
			"Ouenzé", "Talangaï", "Mfilou", "Djiri",
		},
	},
	{
		ID:   "pointe-noire",
		Name: "Pointe-Noire",
		Neighborhoods: []string{
			"Centre-ville", "Tié-Tié", "Lumumba", "Vindoulou", "Mongo-Mpoukou",
			"Mpita", "Ngoyo", "Tchimbamba",
		},
	},
	{
		ID:            "dolisie",
		Name:          "Dolisie",
		Neighborhoods: []string{"Centre-ville", "Ngot", "Moukoukoulou", "Bissenga"},
	},
	{
		ID:            "nkayi",
		Name:          "Nkayi",
		Neighborhoods: []string{"Centre-ville", "Mouyondzi", "Loudima"},
	},
	{
		ID:            "owando",
		Name:          "Owando",
		Neighborhoods: []string{"Centre-ville", "Makoua", "Boundji"},
	},
}

// FindCity возвращает город по идентификатору.
func FindCity(id string) (City, bool) {
	for _, c := range Cities {
		if c.ID == id {
			return c, true
		}
	}
	return City{}, false
}
